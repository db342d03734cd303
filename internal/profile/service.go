// Package profile はIdentityとプロフィールの対応付けを管理する。
// IdP側にIdentityがあるのにプロフィールが無い状態を検出した場合は、その場で作成して整合させる。
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/hitoshi/digitalcoffee/internal/metrics"
	"github.com/hitoshi/digitalcoffee/internal/model"
	"github.com/hitoshi/digitalcoffee/internal/repository"
	"github.com/hitoshi/digitalcoffee/internal/security"
)

// 作成経路（メトリクスのラベル）
const (
	PathRegister   = "register"
	PathSocialAuth = "social_auth"
	PathReconcile  = "reconcile"
)

// WelcomeSender はウェルカムメールの送信キューへの投入を行う。
type WelcomeSender interface {
	SendWelcome(email, name string)
}

// Service はプロフィールの作成・取得・整合を行うサービス層。
type Service struct {
	repo      repository.ProfileRepository
	sanitizer security.NameSanitizer
	welcome   WelcomeSender
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewService はServiceを生成する。welcomeとmetricsはnil可。
func NewService(
	repo repository.ProfileRepository,
	sanitizer security.NameSanitizer,
	welcome WelcomeSender,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		welcome:   welcome,
		metrics:   collector,
		now:       time.Now,
	}
}

// EnsureProfile はIdentityに対応するプロフィールを返す。
// 存在しない場合はIdentityのクレームから作成する。同時に呼ばれても作成は1件に収束する。
func (s *Service) EnsureProfile(ctx context.Context, identity *model.Identity) (*model.Profile, error) {
	profile, err := s.repo.FindByUserID(ctx, identity.UID)
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	if profile != nil {
		s.syncDisplayName(ctx, profile, identity)
		return profile, nil
	}

	profile, created, err := s.repo.CreateIfAbsent(ctx, s.newProfile(identity, identity.Email, identity.DisplayName, identity.SignInProvider))
	if err != nil {
		return nil, fmt.Errorf("failed to provision profile: %w", err)
	}
	if created {
		slog.Info("profile provisioned for existing identity",
			slog.String("user_id", identity.UID),
			slog.String("provider", string(profile.Provider)),
		)
		s.metrics.RecordProfileProvisioned(PathReconcile)
	}
	return profile, nil
}

// Register はクライアントで作成済みのIdentityに対してプロフィールを登録する。
// 既に存在する場合はProfileAlreadyExistsエラーを返す。
func (s *Service) Register(ctx context.Context, identity *model.Identity, email, name string) (*model.Profile, error) {
	email = strings.TrimSpace(email)
	name = s.sanitizer.Sanitize(name)
	if email == "" || name == "" {
		return nil, model.NewValidationError("email and name are required")
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	profile, created, err := s.repo.CreateIfAbsent(ctx, s.newProfile(identity, email, name, identity.SignInProvider))
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	if !created {
		return nil, model.NewProfileAlreadyExistsError()
	}

	s.onCreated(profile, PathRegister)
	return profile, nil
}

// SyncSocialAuth はフェデレーション認証後のプロフィールを作成または取得する。
// 戻り値のboolは今回作成したかどうか。未指定の項目はIdentityのクレームで補う。
func (s *Service) SyncSocialAuth(ctx context.Context, identity *model.Identity, email, name, provider string) (*model.Profile, bool, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		email = identity.Email
	}
	if email == "" {
		return nil, false, model.NewValidationError("email is required")
	}
	if err := validateEmail(email); err != nil {
		return nil, false, err
	}
	if name == "" {
		name = identity.DisplayName
	}
	kind := model.ProviderKind(provider)
	if kind == "" {
		kind = identity.SignInProvider
	}

	profile, created, err := s.repo.CreateIfAbsent(ctx, s.newProfile(identity, email, s.sanitizer.Sanitize(name), kind))
	if err != nil {
		return nil, false, fmt.Errorf("failed to sync profile: %w", err)
	}
	if created {
		s.onCreated(profile, PathSocialAuth)
	}
	return profile, created, nil
}

// syncDisplayName はIdP側で表示名が変わっていればプロフィールに反映する。
// メールアドレスが一致する場合のみ更新し、失敗しても呼び出し元には返さない。
func (s *Service) syncDisplayName(ctx context.Context, profile *model.Profile, identity *model.Identity) {
	if !identity.UsableForProtectedActions() || identity.DisplayName == "" {
		return
	}
	name := s.sanitizer.Sanitize(identity.DisplayName)
	if name == "" || name == profile.Name || identity.Email != profile.Email {
		return
	}

	updated, err := s.repo.UpdateNameIfEmailEquals(ctx, profile.UserID, profile.Email, name)
	if err != nil {
		slog.Warn("failed to sync display name",
			slog.String("user_id", profile.UserID),
			slog.String("error", err.Error()),
		)
		return
	}
	if updated {
		profile.Name = name
	}
}

func (s *Service) newProfile(identity *model.Identity, email, name string, provider model.ProviderKind) *model.Profile {
	if provider == "" {
		provider = model.ProviderPassword
	}
	now := s.now()
	return &model.Profile{
		UserID:    identity.UID,
		Email:     email,
		Name:      s.sanitizer.Sanitize(name),
		Provider:  provider,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Service) onCreated(profile *model.Profile, path string) {
	slog.Info("profile created",
		slog.String("user_id", profile.UserID),
		slog.String("path", path),
	)
	s.metrics.RecordProfileProvisioned(path)
	if s.welcome != nil && profile.Email != "" {
		s.welcome.SendWelcome(profile.Email, profile.Name)
	}
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return model.NewValidationError("email is not a valid address")
	}
	return nil
}
