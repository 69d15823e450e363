package credentials

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/metagen/internal/models"
	"github.com/inaiurai/metagen/internal/repository/memstore"
)

var testKey = strings.Repeat("ab", 32)

func newSealer(t *testing.T) *Sealer {
	t.Helper()
	s, err := NewSealer(testKey)
	require.NoError(t, err)
	return s
}

func TestSealer_RoundTrip(t *testing.T) {
	s := newSealer(t)

	a, err := s.Seal("sk-secret")
	require.NoError(t, err)
	b, err := s.Seal("sk-secret")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "nonces must differ")

	plain, err := s.Open(a)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", plain)
}

func TestSealer_RejectsTamperingAndWrongKey(t *testing.T) {
	s := newSealer(t)
	sealed, err := s.Seal("sk-secret")
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xFF
	_, err = s.Open(tampered)
	assert.ErrorIs(t, err, ErrUnseal)

	_, err = s.Open(sealed[:10])
	assert.ErrorIs(t, err, ErrUnseal)

	other, err := NewSealer(strings.Repeat("cd", 32))
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrUnseal)
}

func TestNewSealer_BadKey(t *testing.T) {
	_, err := NewSealer("zz")
	assert.Error(t, err)
	_, err = NewSealer("abcd")
	assert.Error(t, err)
}

func TestResolver_ForOwner(t *testing.T) {
	s := newSealer(t)
	seal := func(v string) []byte {
		b, err := s.Seal(v)
		require.NoError(t, err)
		return b
	}

	cases := []struct {
		name       string
		account    models.Account
		wantSecret string
		wantKind   string
		wantShared bool
	}{
		{
			name:       "both keys prefer gemini",
			account:    models.Account{OpenAIKeySealed: seal("sk-o"), GeminiKeySealed: seal("g-k"), PreferredProvider: models.ProviderGemini},
			wantSecret: "g-k", wantKind: models.ProviderGemini,
		},
		{
			name:       "both keys prefer openai",
			account:    models.Account{OpenAIKeySealed: seal("sk-o"), GeminiKeySealed: seal("g-k"), PreferredProvider: models.ProviderOpenAI},
			wantSecret: "sk-o", wantKind: models.ProviderOpenAI,
		},
		{
			name:       "only openai",
			account:    models.Account{OpenAIKeySealed: seal("sk-o"), PreferredProvider: models.ProviderGemini},
			wantSecret: "sk-o", wantKind: models.ProviderOpenAI,
		},
		{
			name:       "only gemini",
			account:    models.Account{GeminiKeySealed: seal("g-k")},
			wantSecret: "g-k", wantKind: models.ProviderGemini,
		},
		{
			name:       "no keys falls back to shared",
			account:    models.Account{UseVision: true},
			wantSecret: "sk-shared", wantKind: models.ProviderOpenAI, wantShared: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			acc := tc.account
			acc.ID = uuid.New()
			r := NewResolver(memstore.NewAccounts(&acc), s, "sk-shared")

			cred, err := r.ForOwner(context.Background(), acc.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantSecret, cred.Secret)
			assert.Equal(t, tc.wantKind, cred.Provider)
			assert.Equal(t, tc.wantShared, cred.Shared)
			assert.Equal(t, acc.UseVision, cred.Vision)
		})
	}
}

func TestResolver_Errors(t *testing.T) {
	s := newSealer(t)
	acc := &models.Account{ID: uuid.New()}
	r := NewResolver(memstore.NewAccounts(acc), s, "")

	_, err := r.ForOwner(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = r.ForOwner(context.Background(), acc.ID)
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestResolver_ForTask(t *testing.T) {
	s := newSealer(t)
	sealed, err := s.Seal("g-k")
	require.NoError(t, err)
	acc := &models.Account{ID: uuid.New(), GeminiKeySealed: sealed}
	r := NewResolver(memstore.NewAccounts(acc), s, "sk-shared")

	cred, err := r.ForTask(context.Background(), &models.Task{OwnerID: acc.ID, ProviderKind: models.ProviderGemini, UseVision: true})
	require.NoError(t, err)
	assert.Equal(t, models.Credential{Secret: "g-k", Provider: models.ProviderGemini, Vision: true}, cred)

	// The owner added a key after the batch was created on the shared tier.
	cred, err = r.ForTask(context.Background(), &models.Task{OwnerID: acc.ID, ProviderKind: models.ProviderOpenAI, SharedCredential: true})
	require.NoError(t, err)
	assert.True(t, cred.Shared)
	assert.Equal(t, "sk-shared", cred.Secret)

	// The recorded provider key was removed since creation.
	_, err = r.ForTask(context.Background(), &models.Task{OwnerID: acc.ID, ProviderKind: models.ProviderOpenAI})
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestSettingsService_SealsKeysForTheResolver(t *testing.T) {
	s := newSealer(t)
	acc := &models.Account{ID: uuid.New(), CreditBalance: 10}
	accounts := memstore.NewAccounts(acc)
	svc := NewSettingsService(accounts, s)
	ctx := context.Background()

	saved, err := svc.Save(ctx, acc.ID, Settings{OpenAIKey: " sk-own ", GeminiKey: "g-own", PreferredProvider: "GEMINI", UseVision: true})
	require.NoError(t, err)
	assert.Equal(t, models.ProviderGemini, saved.PreferredProvider)
	assert.True(t, saved.UseVision)
	assert.NotContains(t, string(saved.OpenAIKeySealed), "sk-own", "keys are stored sealed")
	assert.Equal(t, 10, saved.CreditBalance)

	cred, err := NewResolver(accounts, s, "").ForOwner(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Credential{Secret: "g-own", Provider: models.ProviderGemini, Vision: true}, cred)

	saved, err = svc.Save(ctx, acc.ID, Settings{OpenAIKey: "sk-own"})
	require.NoError(t, err)
	assert.Nil(t, saved.GeminiKeySealed, "empty key clears the stored one")
	assert.Equal(t, models.ProviderOpenAI, saved.PreferredProvider)
}

func TestSettingsService_PreferredProviderFallback(t *testing.T) {
	cases := []struct {
		name string
		in   Settings
		want string
	}{
		{"only gemini", Settings{GeminiKey: "g"}, models.ProviderGemini},
		{"only openai", Settings{OpenAIKey: "o"}, models.ProviderOpenAI},
		{"both without preference", Settings{OpenAIKey: "o", GeminiKey: "g"}, models.ProviderOpenAI},
		{"no keys", Settings{}, ""},
		{"explicit", Settings{OpenAIKey: "o", PreferredProvider: "gemini"}, models.ProviderGemini},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := preferredProvider(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSettingsService_Errors(t *testing.T) {
	svc := NewSettingsService(memstore.NewAccounts(), newSealer(t))

	_, err := svc.Save(context.Background(), uuid.New(), Settings{OpenAIKey: "sk"})
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = svc.Save(context.Background(), uuid.New(), Settings{PreferredProvider: "claude"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
