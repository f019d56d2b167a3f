package vigil

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	modelPrefix = "models/"
	modelSuffix = ".vgl"
	metaPrefix  = "meta/"
	metaSuffix  = ".json"
)

var validModelName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ModelInfo describes one saved model version.
type ModelInfo struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Label     string    `json:"label"`
	Grams     int       `json:"grams"`
	Size      int       `json:"size"`
	Encrypted bool      `json:"encrypted"`
	SavedAt   time.Time `json:"saved_at"`
}

// versionRecorder is implemented by backends that keep a history of saved
// model versions.
type versionRecorder interface {
	RecordVersion(ctx context.Context, info ModelInfo) error
	Versions(ctx context.Context, name string) ([]ModelInfo, error)
}

// ModelStoreOptions configures a ModelStore.
type ModelStoreOptions struct {
	// Password enables AES-256-GCM encryption of saved models. Encrypted
	// models can only be loaded with the same password.
	Password string

	Logger *zap.Logger

	// Now stamps saved models. Default: time.Now.
	Now func() time.Time
}

// ModelStore persists classifier models on a StorageBackend.
type ModelStore struct {
	backend  StorageBackend
	password string
	logger   *zap.Logger
	now      func() time.Time
}

// NewModelStore creates a model store on backend. The store does not own
// the backend.
func NewModelStore(backend StorageBackend, opts ModelStoreOptions) *ModelStore {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ModelStore{
		backend:  backend,
		password: opts.Password,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

func modelKey(name string) string { return modelPrefix + name + modelSuffix }
func metaKey(name string) string  { return metaPrefix + name + metaSuffix }

func checkModelName(name string) error {
	if !validModelName.MatchString(name) || strings.Contains(name, "..") {
		return configError("invalid model name %q", name)
	}
	return nil
}

// Save encodes c and stores it under name, replacing any previous model of
// that name. Runtime state of c is not saved.
func (s *ModelStore) Save(ctx context.Context, name string, c *Classifier) (ModelInfo, error) {
	if err := checkModelName(name); err != nil {
		return ModelInfo{}, err
	}

	model := c.Model()
	data, err := EncodeModel(model)
	if err != nil {
		return ModelInfo{}, newStoreError(StoreErrorTypeWrite, "encode model", name, err)
	}
	if s.password != "" {
		enc, err := NewEncryptor(s.password)
		if err != nil {
			return ModelInfo{}, err
		}
		if data, err = enc.Seal(data); err != nil {
			return ModelInfo{}, newStoreError(StoreErrorTypeWrite, "encrypt model", name, err)
		}
	}

	info := ModelInfo{
		Name:      name,
		Version:   uuid.NewString(),
		Label:     model.Label,
		Grams:     len(model.Descriptors),
		Size:      len(data),
		Encrypted: s.password != "",
		SavedAt:   s.now().UTC(),
	}
	meta, err := json.Marshal(info)
	if err != nil {
		return ModelInfo{}, newStoreError(StoreErrorTypeWrite, "encode model info", name, err)
	}

	if err := s.backend.Write(ctx, modelKey(name), data); err != nil {
		return ModelInfo{}, newStoreError(StoreErrorTypeWrite, "write model", name, err)
	}
	if err := s.backend.Write(ctx, metaKey(name), meta); err != nil {
		return ModelInfo{}, newStoreError(StoreErrorTypeWrite, "write model info", name, err)
	}
	if rec, ok := s.backend.(versionRecorder); ok {
		if err := rec.RecordVersion(ctx, info); err != nil {
			return ModelInfo{}, newStoreError(StoreErrorTypeWrite, "record model version", name, err)
		}
	}

	s.logger.Info("saved model",
		zap.String("name", name),
		zap.String("version", info.Version),
		zap.Int("bytes", info.Size),
		zap.Bool("encrypted", info.Encrypted))
	return info, nil
}

// Load reads the model stored under name and returns a classifier that is
// not yet deployed.
func (s *ModelStore) Load(ctx context.Context, name string, opts ClassifierOptions) (*Classifier, error) {
	if err := checkModelName(name); err != nil {
		return nil, err
	}

	data, err := s.backend.Read(ctx, modelKey(name))
	if err != nil {
		if IsNotExist(err) {
			return nil, newStoreError(StoreErrorTypeNotFound, "model not found", name, err)
		}
		return nil, newStoreError(StoreErrorTypeRead, "read model", name, err)
	}

	if IsEncrypted(data) {
		if s.password == "" {
			return nil, newStoreError(StoreErrorTypeRead, "model is encrypted and no password is configured", name, nil)
		}
		if data, err = OpenSealed(s.password, data); err != nil {
			return nil, newStoreError(StoreErrorTypeCorrupt, "decrypt model", name, err)
		}
	}

	if opts.Name == "" {
		opts.Name = name
	}
	c, err := UnmarshalClassifier(data, opts)
	if err != nil {
		return nil, newStoreError(StoreErrorTypeCorrupt, "decode model", name, err)
	}
	s.logger.Debug("loaded model", zap.String("name", name))
	return c, nil
}

// Info returns the metadata of the latest saved version of name.
func (s *ModelStore) Info(ctx context.Context, name string) (ModelInfo, error) {
	if err := checkModelName(name); err != nil {
		return ModelInfo{}, err
	}
	data, err := s.backend.Read(ctx, metaKey(name))
	if err != nil {
		if IsNotExist(err) {
			return ModelInfo{}, newStoreError(StoreErrorTypeNotFound, "model not found", name, err)
		}
		return ModelInfo{}, newStoreError(StoreErrorTypeRead, "read model info", name, err)
	}
	var info ModelInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return ModelInfo{}, newStoreError(StoreErrorTypeCorrupt, "decode model info", name, err)
	}
	return info, nil
}

// List returns the metadata of every stored model, ordered by name.
func (s *ModelStore) List(ctx context.Context) ([]ModelInfo, error) {
	keys, err := s.backend.List(ctx, modelPrefix)
	if err != nil {
		return nil, newStoreError(StoreErrorTypeRead, "list models", "", err)
	}

	infos := make([]ModelInfo, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, modelSuffix) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(key, modelPrefix), modelSuffix)
		info, err := s.Info(ctx, name)
		if err != nil {
			s.logger.Warn("skipping model without readable info", zap.String("name", name), zap.Error(err))
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Versions returns every recorded version of name, newest first. Backends
// without a version history report only the latest version.
func (s *ModelStore) Versions(ctx context.Context, name string) ([]ModelInfo, error) {
	if err := checkModelName(name); err != nil {
		return nil, err
	}
	if rec, ok := s.backend.(versionRecorder); ok {
		infos, err := rec.Versions(ctx, name)
		if err != nil {
			return nil, newStoreError(StoreErrorTypeRead, "query model versions", name, err)
		}
		if len(infos) == 0 {
			return nil, newStoreError(StoreErrorTypeNotFound, "model not found", name, nil)
		}
		return infos, nil
	}
	info, err := s.Info(ctx, name)
	if err != nil {
		return nil, err
	}
	return []ModelInfo{info}, nil
}

// Delete removes the model stored under name. Recorded versions are kept.
func (s *ModelStore) Delete(ctx context.Context, name string) error {
	if err := checkModelName(name); err != nil {
		return err
	}
	exists, err := s.backend.Exists(ctx, modelKey(name))
	if err != nil {
		return newStoreError(StoreErrorTypeRead, "check model", name, err)
	}
	if !exists {
		return newStoreError(StoreErrorTypeNotFound, "model not found", name, nil)
	}
	if err := s.backend.Delete(ctx, modelKey(name)); err != nil {
		return newStoreError(StoreErrorTypeWrite, "delete model", name, err)
	}
	if err := s.backend.Delete(ctx, metaKey(name)); err != nil && !IsNotExist(err) {
		return newStoreError(StoreErrorTypeWrite, "delete model info", name, err)
	}
	s.logger.Info("deleted model", zap.String("name", name))
	return nil
}
