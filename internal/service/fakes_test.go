package service

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/activation-server/internal/crypto"
	"github.com/iliyamo/activation-server/internal/model"
	"github.com/iliyamo/activation-server/internal/queue"
	"github.com/iliyamo/activation-server/internal/repository"
)

// In-memory store fakes. They honor the repository sentinel contract
// (ErrNotFound / ErrDuplicate) so the services cannot tell them from the
// MySQL implementations.

type fakeActivationStore struct {
	mu          sync.Mutex
	activations map[string]*model.Activation
}

func newFakeActivationStore() *fakeActivationStore {
	return &fakeActivationStore{activations: make(map[string]*model.Activation)}
}

func (s *fakeActivationStore) put(a *model.Activation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *a
	s.activations[a.ActivationID] = &copied
}

func (s *fakeActivationStore) get(id string) *model.Activation {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *s.activations[id]
	return &copied
}

func (s *fakeActivationStore) FindActivation(_ context.Context, activationID string) (*model.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activations[activationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *fakeActivationStore) WithLockedActivation(_ context.Context, activationID string, fn func(a *model.Activation) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.activations[activationID]
	if !ok {
		return repository.ErrNotFound
	}
	working := *stored
	save, err := fn(&working)
	if err != nil {
		return err
	}
	if save {
		s.activations[activationID] = &working
	}
	return nil
}

type fakeTokenStore struct {
	mu          sync.Mutex
	tokens      map[string]*model.Token
	alwaysFound bool // forces the ID-uniqueness retry loop to exhaust
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string]*model.Token)}
}

func (s *fakeTokenStore) FindToken(_ context.Context, tokenID string) (*model.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alwaysFound {
		return &model.Token{TokenID: tokenID}, nil
	}
	t, ok := s.tokens[tokenID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *fakeTokenStore) SaveToken(_ context.Context, token *model.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[token.TokenID]; ok {
		return repository.ErrDuplicate
	}
	copied := *token
	s.tokens[token.TokenID] = &copied
	return nil
}

func (s *fakeTokenStore) DeleteToken(_ context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tokenID)
	return nil
}

type fakeUniqueValueStore struct {
	mu     sync.Mutex
	values map[string]model.UniqueValue
}

func newFakeUniqueValueStore() *fakeUniqueValueStore {
	return &fakeUniqueValueStore{values: make(map[string]model.UniqueValue)}
}

func (s *fakeUniqueValueStore) InsertUniqueValue(_ context.Context, value model.UniqueValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[value.Value]; ok {
		return repository.ErrDuplicate
	}
	s.values[value.Value] = value
	return nil
}

func (s *fakeUniqueValueStore) DeleteExpiredUniqueValues(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for k, v := range s.values {
		if !v.ExpiresAt.After(now) {
			delete(s.values, k)
			removed++
		}
	}
	return removed, nil
}

func (s *fakeUniqueValueStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

type fakeApplicationStore struct {
	apps     map[string]*model.Application
	versions map[string]*model.ApplicationVersion
}

func newFakeApplicationStore() *fakeApplicationStore {
	return &fakeApplicationStore{
		apps:     make(map[string]*model.Application),
		versions: make(map[string]*model.ApplicationVersion),
	}
}

func (s *fakeApplicationStore) FindApplication(_ context.Context, applicationID string) (*model.Application, error) {
	a, ok := s.apps[applicationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *fakeApplicationStore) FindApplicationVersionByKey(_ context.Context, applicationKey string) (*model.ApplicationVersion, error) {
	v, ok := s.versions[applicationKey]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *v
	return &copied, nil
}

type fakeRecoveryStore struct {
	mu      sync.Mutex
	nextID  int64
	codes   map[int64]*model.RecoveryCode
	puks    map[int64]*model.RecoveryPuk
	configs map[string]*model.RecoveryConfig
}

func newFakeRecoveryStore() *fakeRecoveryStore {
	return &fakeRecoveryStore{
		nextID:  1,
		codes:   make(map[int64]*model.RecoveryCode),
		puks:    make(map[int64]*model.RecoveryPuk),
		configs: make(map[string]*model.RecoveryConfig),
	}
}

func (s *fakeRecoveryStore) SaveRecoveryCode(_ context.Context, code *model.RecoveryCode, puks []model.RecoveryPuk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	code.ID = s.nextID
	s.nextID++
	copied := *code
	s.codes[code.ID] = &copied
	for i := range puks {
		puks[i].ID = s.nextID
		s.nextID++
		puks[i].RecoveryCodeID = code.ID
		p := puks[i]
		s.puks[p.ID] = &p
	}
	return nil
}

func (s *fakeRecoveryStore) FindRecoveryCode(_ context.Context, id int64) (*model.RecoveryCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (s *fakeRecoveryStore) FindRecoveryCodeByValue(_ context.Context, applicationID, code string) (*model.RecoveryCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.codes {
		if c.ApplicationID == applicationID && c.Code == code {
			copied := *c
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeRecoveryStore) CountRecoveryCodes(_ context.Context, applicationID, code string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.codes {
		if c.ApplicationID == applicationID && c.Code == code {
			n++
		}
	}
	return n, nil
}

func (s *fakeRecoveryStore) ListRecoveryCodes(_ context.Context, filter model.RecoveryCodeFilter) ([]model.RecoveryCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.RecoveryCode
	for _, c := range s.codes {
		if filter.ApplicationID != "" && c.ApplicationID != filter.ApplicationID {
			continue
		}
		if filter.UserID != "" && c.UserID != filter.UserID {
			continue
		}
		if filter.ActivationID != "" && (c.ActivationID == nil || *c.ActivationID != filter.ActivationID) {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (s *fakeRecoveryStore) ListRecoveryPuks(_ context.Context, recoveryCodeID int64) ([]model.RecoveryPuk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.RecoveryPuk
	for _, p := range s.puks {
		if p.RecoveryCodeID == recoveryCodeID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeRecoveryStore) UpdateRecoveryCodeStatus(_ context.Context, id int64, status model.RecoveryCodeStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Status = status
	c.LastChangeAt = &at
	return nil
}

func (s *fakeRecoveryStore) UpdateRecoveryPukStatus(_ context.Context, id int64, status model.RecoveryPukStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.puks[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = status
	p.LastChangeAt = &at
	return nil
}

func (s *fakeRecoveryStore) FindRecoveryConfig(_ context.Context, applicationID string) (*model.RecoveryConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[applicationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (s *fakeRecoveryStore) SaveRecoveryConfig(_ context.Context, cfg *model.RecoveryConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cfg
	s.configs[cfg.ApplicationID] = &copied
	return nil
}

type fakeHistoryPublisher struct {
	mu     sync.Mutex
	events []queue.ActivationChangedEvent
}

func (p *fakeHistoryPublisher) PublishActivationChange(_ context.Context, event queue.ActivationChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakeHistoryPublisher) published() []queue.ActivationChangedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]queue.ActivationChangedEvent(nil), p.events...)
}

// testBed wires one application, one ACTIVE activation and the matching
// client-side key material.
type testBed struct {
	apps        *fakeApplicationStore
	activations *fakeActivationStore
	vault       *KeyVault

	activationID   string
	userID         string
	applicationID  string
	applicationKey string
	appSecret      []byte
	transportKey   []byte
	serverPublic   []byte
}

const testReplayWindow = 2 * time.Minute

func newTestBed(t *testing.T) *testBed {
	t.Helper()

	serverPriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	devicePriv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	sharedSecret, err := crypto.ComputeSharedSecret(devicePriv, serverPriv.PublicKey(), false)
	require.NoError(t, err)

	bed := &testBed{
		apps:           newFakeApplicationStore(),
		activations:    newFakeActivationStore(),
		vault:          NewKeyVault(nil),
		activationID:   "activation-1",
		userID:         "user-1",
		applicationID:  "app-1",
		applicationKey: "app-key-1",
		appSecret:      []byte("app-secret-1"),
		transportKey:   crypto.SharedSecretToKeyBytes(sharedSecret),
		serverPublic:   crypto.PublicKeyToBytes(serverPriv.PublicKey()),
	}

	bed.apps.apps[bed.applicationID] = &model.Application{
		ID:    bed.applicationID,
		Roles: []string{"USER"},
	}
	bed.apps.versions[bed.applicationKey] = &model.ApplicationVersion{
		ApplicationKey:    bed.applicationKey,
		ApplicationID:     bed.applicationID,
		ApplicationSecret: string(bed.appSecret),
		Supported:         true,
	}

	now := time.Now().UTC()
	bed.activations.put(&model.Activation{
		ActivationID:        bed.activationID,
		UserID:              bed.userID,
		ApplicationID:       bed.applicationID,
		Status:              model.ActivationActive,
		Version:             2,
		ServerPrivateKey:    base64.StdEncoding.EncodeToString(crypto.PrivateKeyToBytes(serverPriv)),
		ServerKeyEncryption: model.NoEncryption,
		DevicePublicKey:     base64.StdEncoding.EncodeToString(crypto.PublicKeyToBytes(devicePriv.PublicKey())),
		MaxFailedAttempts:   5,
		CreatedAt:           now,
		UpdatedAt:           now,
	})
	return bed
}

func (b *testBed) newReplayGuard() *ReplayGuard {
	return NewReplayGuard(newFakeUniqueValueStore(), testReplayWindow)
}

// encryptedRequest builds a client-side envelope for the bed's
// activation and returns the request together with the encryptor needed
// to open the server's response.
type clientEnvelope struct {
	encryptor *crypto.RequestEncryptor
	params    crypto.Parameters
	version   string
}

func (b *testBed) encryptRequest(t *testing.T, tag crypto.OperationTag, version string, plaintext []byte) (EncryptedRequest, *clientEnvelope) {
	t.Helper()
	serverPub, err := crypto.PublicKeyFromBytes(b.serverPublic)
	require.NoError(t, err)
	encryptor, err := crypto.NewRequestEncryptor(serverPub, b.appSecret, b.transportKey, tag)
	require.NoError(t, err)

	nonce, err := crypto.RandomBytes(crypto.NonceLength)
	require.NoError(t, err)
	var timestamp int64
	if crypto.RequiresTimestamp(version) {
		timestamp = time.Now().UnixMilli()
	}
	params := crypto.Parameters{
		Nonce:          nonce,
		AssociatedData: crypto.AssociatedData(crypto.ScopeActivation, version, b.applicationKey, b.activationID),
		Timestamp:      timestamp,
	}
	cryptogram, err := encryptor.Encrypt(plaintext, params)
	require.NoError(t, err)

	req := EncryptedRequest{
		ActivationID:       b.activationID,
		ApplicationKey:     b.applicationKey,
		EphemeralPublicKey: cryptogram.EphemeralPublicKey,
		EncryptedData:      cryptogram.EncryptedData,
		Mac:                cryptogram.Mac,
		Nonce:              nonce,
		Timestamp:          timestamp,
		ProtocolVersion:    version,
	}
	return req, &clientEnvelope{encryptor: encryptor, params: params, version: version}
}

// openResponse decrypts a server response on the client side.
func (c *clientEnvelope) openResponse(t *testing.T, resp EncryptedResponse) []byte {
	t.Helper()
	nonce := c.params.Nonce
	if len(resp.Nonce) > 0 {
		nonce = resp.Nonce
	}
	params := crypto.Parameters{
		Nonce:          nonce,
		AssociatedData: c.params.AssociatedData,
		Timestamp:      resp.Timestamp,
	}
	plaintext, err := c.encryptor.DecryptResponse(crypto.Cryptogram{
		EncryptedData: resp.EncryptedData,
		Mac:           resp.Mac,
	}, params)
	require.NoError(t, err)
	return plaintext
}
