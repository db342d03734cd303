package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, profile, session, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated      = "UNAUTHENTICATED"
	ErrCodeInvalidToken         = "INVALID_TOKEN"
	ErrCodeEmailNotVerified     = "EMAIL_NOT_VERIFIED"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeSessionNotFound      = "SESSION_NOT_FOUND"
	ErrCodeSessionAlreadyEnded  = "SESSION_ALREADY_ENDED"
	ErrCodeValidationFailed     = "VALIDATION_FAILED"
	ErrCodeProfileAlreadyExists = "PROFILE_ALREADY_EXISTS"
	ErrCodeProviderFailure      = "PROVIDER_FAILURE"
	ErrCodeRateLimited          = "RATE_LIMITED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewUnauthenticatedError はBearerトークンが無い・形式不正の場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "Authorization: Bearer <token> ヘッダーを付けて再送してください。",
	}
}

// NewInvalidTokenError はトークン検証に失敗した場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "トークンが無効か期限切れです。",
		Category: "auth",
		Action:   "トークンを更新してから再度お試しください。",
	}
}

// NewEmailNotVerifiedError はメール未確認のIdentityで保護された操作を行った場合のエラーを生成する。
func NewEmailNotVerifiedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotVerified,
		Message:  "メールアドレスが確認されていません。",
		Category: "auth",
		Action:   "確認メールのリンクを開いてから再度サインインしてください。",
	}
}

// NewForbiddenError はリソースの所有者でない場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "このリソースへのアクセス権がありません。",
		Category: "auth",
		Action:   "自分のセッションのみ操作できます。",
	}
}

// NewSessionNotFoundError はセッションが見つからない場合のエラーを生成する。
func NewSessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("指定されたセッションが見つかりません: %s", sessionID),
		Category: "session",
		Action:   "セッションIDを確認してください。",
	}
}

// NewSessionAlreadyEndedError は終了済みセッションを再度終了しようとした場合のエラーを生成する。
func NewSessionAlreadyEndedError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionAlreadyEnded,
		Message:  "このセッションは既に終了しています。",
		Category: "session",
		Action:   "新しいセッションを開始してください。",
	}
}

// NewValidationError はリクエスト項目の不足・形式不正のエラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  reason,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewProfileAlreadyExistsError は明示的な登録で既にプロフィールが存在する場合のエラーを生成する。
func NewProfileAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileAlreadyExists,
		Message:  "User already exists",
		Category: "profile",
		Action:   "GET /api/users/profile で既存のプロフィールを取得してください。",
	}
}

// NewProviderFailureError はIdPやストアが到達不能・拒否した場合のエラーを生成する。
// reasonは診断用に返すが、秘密情報を含めないこと。
func NewProviderFailureError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderFailure,
		Message:  reason,
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
