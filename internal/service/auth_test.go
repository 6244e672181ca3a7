package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/command-my-startup/internal/cache"
	"github.com/pribylovaa/command-my-startup/internal/config"
	"github.com/pribylovaa/command-my-startup/internal/models"
	"github.com/pribylovaa/command-my-startup/internal/storage"
	"github.com/pribylovaa/command-my-startup/internal/token"
	"github.com/pribylovaa/command-my-startup/mocks"
)

// Моки генерируются командами:
//   mockgen -source=./internal/storage/storage.go -destination=./mocks/storage.go -package=mocks
//   mockgen -source=./internal/service/service.go -destination=./mocks/service.go -package=mocks

type testDeps struct {
	users   *mocks.MockUserStorage
	keys    *mocks.MockAPIKeyStorage
	history *mocks.MockHistoryStorage
	avatars *mocks.MockAvatarStorage
	ai      *mocks.MockCompleter
	billing *mocks.MockBilling
	revoked *cache.MemoryRevocations
	codec   *token.Codec
	now     time.Time
}

func testCodec(t *testing.T) *token.Codec {
	t.Helper()
	c, err := token.New(config.AuthConfig{
		JWTSecret:       "service-test-secret",
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		Audience:        "command-my-startup",
	})
	require.NoError(t, err)
	return c
}

func newSvc(t *testing.T) (*Service, *testDeps) {
	t.Helper()
	ctrl := gomock.NewController(t)

	d := &testDeps{
		users:   mocks.NewMockUserStorage(ctrl),
		keys:    mocks.NewMockAPIKeyStorage(ctrl),
		history: mocks.NewMockHistoryStorage(ctrl),
		avatars: mocks.NewMockAvatarStorage(ctrl),
		ai:      mocks.NewMockCompleter(ctrl),
		billing: mocks.NewMockBilling(ctrl),
		revoked: cache.NewMemoryRevocations(),
		codec:   testCodec(t),
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	svc := New(Deps{
		Users:       d.users,
		Keys:        d.keys,
		History:     d.history,
		Avatars:     d.avatars,
		Revocations: d.revoked,
		Codec:       d.codec,
		AI:          d.ai,
		Billing:     d.billing,
		Now:         func() time.Time { return d.now },
	})

	return svc, d
}

func mustHashPW(t *testing.T, pw string) string {
	t.Helper()
	h, err := hashPassword(pw)
	require.NoError(t, err)
	return h
}

func TestRegister_OK(t *testing.T) {
	t.Parallel()

	svc, d := newSvc(t)
	ctx := context.Background()

	d.users.EXPECT().UserByEmail(gomock.Any(), "user@example.com").Return(nil, storage.ErrNotFound)
	d.users.EXPECT().SaveUser(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, u *models.User) error {
		require.Equal(t, "user@example.com", u.Email)
		require.Equal(t, "Ann", u.FullName)
		require.True(t, checkPassword(u.PasswordHash, "abcdefg1"))
		return nil
	})
	d.billing.EXPECT().Enabled().Return(true)
	d.billing.EXPECT().CreateCustomer(gomock.Any(), "user@example.com", "Ann", gomock.Any()).Return("cus_1", nil)
	d.users.EXPECT().SetStripeCustomer(gomock.Any(), gomock.Any(), "cus_1").Return(nil)

	sess, err := svc.Register(ctx, Registration{Email: " User@Example.com ", Password: "abcdefg1", FullName: " Ann "})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, sess.User.ID)
	require.Equal(t, "cus_1", sess.User.StripeCustomerID)
	require.NotEmpty(t, sess.Tokens.AccessToken)
	require.NotEmpty(t, sess.Tokens.RefreshToken)

	tok, err := d.codec.VerifyKind(sess.Tokens.AccessToken, token.KindAccess)
	require.NoError(t, err)
	require.Equal(t, sess.User.ID.String(), tok.Subject)
}

func TestRegister_BillingFailureDoesNotFail(t *testing.T) {
	t.Parallel()

	svc, d := newSvc(t)

	d.users.EXPECT().UserByEmail(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
	d.users.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(nil)
	d.billing.EXPECT().Enabled().Return(true)
	d.billing.EXPECT().CreateCustomer(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("stripe down"))

	sess, err := svc.Register(context.Background(), Registration{Email: "a@b.io", Password: "abcdefg1"})
	require.NoError(t, err)
	require.Empty(t, sess.User.StripeCustomerID)
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()

	svc, _ := newSvc(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   Registration
		want error
	}{
		{name: "bad email", in: Registration{Email: "not-an-email", Password: "abcdefg1"}, want: ErrInvalidEmail},
		{name: "display name form", in: Registration{Email: "Ann <a@b.io>", Password: "abcdefg1"}, want: ErrInvalidEmail},
		{name: "empty password", in: Registration{Email: "a@b.io"}, want: ErrEmptyPassword},
		{name: "short password", in: Registration{Email: "a@b.io", Password: "abc1"}, want: ErrWeakPassword},
		{name: "no digit", in: Registration{Email: "a@b.io", Password: "abcdefgh"}, want: ErrWeakPassword},
		{name: "no letter", in: Registration{Email: "a@b.io", Password: "12345678"}, want: ErrWeakPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.in)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRegister_EmailTaken(t *testing.T) {
	t.Parallel()

	svc, d := newSvc(t)

	d.users.EXPECT().UserByEmail(gomock.Any(), "user@example.com").
		Return(&models.User{ID: uuid.New(), Email: "user@example.com"}, nil)

	_, err := svc.Register(context.Background(), Registration{Email: "user@example.com", Password: "abcdefg1"})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_EmailTaken_OnInsertRace(t *testing.T) {
	t.Parallel()

	svc, d := newSvc(t)

	d.users.EXPECT().UserByEmail(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
	d.users.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists)

	_, err := svc.Register(context.Background(), Registration{Email: "a@b.io", Password: "abcdefg1"})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin(t *testing.T) {
	t.Parallel()

	svc, d := newSvc(t)
	ctx := context.Background()
	user := &models.User{ID: uuid.New(), Email: "a@b.io", PasswordHash: mustHashPW(t, "abcdefg1")}

	d.users.EXPECT().UserByEmail(gomock.Any(), "a@b.io").Return(user, nil).Times(2)
	d.users.EXPECT().UserByEmail(gomock.Any(), "nobody@b.io").Return(nil, storage.ErrNotFound)

	sess, err := svc.Login(ctx, "A@B.io", "abcdefg1")
	require.NoError(t, err)
	require.Equal(t, user.ID, sess.User.ID)

	_, err = svc.Login(ctx, "a@b.io", "wrong-pass1")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@b.io", "abcdefg1")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "a@b.io", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_ExternalUserWithoutPassword(t *testing.T) {
	t.Parallel()

	svc, d := newSvc(t)
	d.users.EXPECT().UserByEmail(gomock.Any(), "g@b.io").Return(&models.User{ID: uuid.New(), Email: "g@b.io"}, nil)

	_, err := svc.Login(context.Background(), "g@b.io", "anything1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh_RotatesAndRevokes(t *testing.T) {
	t.Parallel()

	svc, d := newSvc(t)
	ctx := context.Background()
	user := &models.User{ID: uuid.New(), Email: "a@b.io"}

	pair, err := d.codec.IssuePair(user.ID.String())
	require.NoError(t, err)

	d.users.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)

	sess, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, sess.Tokens.RefreshToken)

	// Повторное использование старого refresh-токена запрещено.
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRefresh_ConcurrentRotationSucceedsOnce(t *testing.T) {
	t.Parallel()

	svc, d := newSvc(t)
	ctx := context.Background()
	user := &models.User{ID: uuid.New(), Email: "a@b.io"}

	pair, err := d.codec.IssuePair(user.ID.String())
	require.NoError(t, err)

	d.users.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil).AnyTimes()

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(ctx, pair.RefreshToken)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, ErrTokenRevoked)
	}
	require.Equal(t, 1, ok)
}

func TestRefresh_RejectsAccessAndGarbage(t *testing.T) {
	t.Parallel()

	svc, d := newSvc(t)
	ctx := context.Background()

	pair, err := d.codec.IssuePair(uuid.NewString())
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Refresh(ctx, "garbage")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh_DeletedUser(t *testing.T) {
	t.Parallel()

	svc, d := newSvc(t)
	uid := uuid.New()
	pair, err := d.codec.IssuePair(uid.String())
	require.NoError(t, err)

	d.users.EXPECT().UserByID(gomock.Any(), uid).Return(nil, storage.ErrNotFound)

	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout(t *testing.T) {
	t.Parallel()

	svc, d := newSvc(t)
	ctx := context.Background()

	pair, err := d.codec.IssuePair(uuid.NewString())
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, pair.RefreshToken))
	require.NoError(t, svc.Logout(ctx, pair.RefreshToken), "second logout is a no-op")
	require.NoError(t, svc.Logout(ctx, ""))
	require.NoError(t, svc.Logout(ctx, "garbage"))

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
}
