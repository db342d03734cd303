package idp

import (
	"fmt"
	"strings"

	"github.com/hitoshi/digitalcoffee/internal/model"
)

// apiErrorBody はIdentity Toolkitのエラーレスポンス。
type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// errorCode はエラーメッセージからコード部分を取り出す。
// 例: "WEAK_PASSWORD : Password should be at least 6 characters" → "WEAK_PASSWORD"
func errorCode(message string) (code, detail string) {
	code, detail, _ = strings.Cut(message, ":")
	return strings.TrimSpace(code), strings.TrimSpace(detail)
}

// mapError はIdentity Toolkitのエラーコードをドメインエラーに変換する。
// opは呼び出したエンドポイント名（accounts:update等）で、同じコードでも意味が変わるものを区別する。
func mapError(op, message string) error {
	code, detail := errorCode(message)

	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "USER_DISABLED":
		return fmt.Errorf("%s: %w", op, model.ErrInvalidCredentials)
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		return fmt.Errorf("%s: %w", op, model.ErrTooManyAttempts)
	case "INVALID_ID_TOKEN", "TOKEN_EXPIRED", "CREDENTIAL_TOO_OLD_LOGIN_AGAIN", "USER_NOT_FOUND":
		return fmt.Errorf("%s: %w", op, model.ErrInvalidToken)
	case "PROVIDER_ALREADY_LINKED":
		return fmt.Errorf("%s: %w", op, model.ErrProviderAlreadyLinked)
	case "EMAIL_EXISTS", "CREDENTIAL_ALREADY_IN_USE":
		if op == opUpdate {
			return fmt.Errorf("%s: %w", op, model.ErrCredentialInUse)
		}
	}
	return &model.ProviderRejectedError{Code: code, Message: detail}
}
