package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ngoclaw/agentcore/internal/domain/entity"
	"github.com/ngoclaw/agentcore/internal/domain/repository"
	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

// identityFile is the on-disk layout of the identity repository.
type identityFile struct {
	Identities []*entity.Identity `yaml:"identities"`
}

// YAMLIdentityRepository 代理身份仓储，整个文件保存在一个 YAML 中。
// 文件含私钥，权限为 0600
type YAMLIdentityRepository struct {
	path string

	mu         sync.RWMutex
	identities map[string]*entity.Identity
}

var _ repository.IdentityRepository = (*YAMLIdentityRepository)(nil)

// NewYAMLIdentityRepository loads path (a missing file is an empty repository).
func NewYAMLIdentityRepository(path string) (*YAMLIdentityRepository, error) {
	r := &YAMLIdentityRepository{path: path, identities: make(map[string]*entity.Identity)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, apperrors.NewPersistenceError("read identities", err)
	}

	var file identityFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, apperrors.NewPersistenceError("decode identities "+path, err)
	}
	for _, id := range file.Identities {
		if id == nil || id.Slug == "" {
			continue
		}
		r.identities[id.Slug] = id
	}
	return r, nil
}

// Find implements repository.IdentityRepository.
func (r *YAMLIdentityRepository) Find(ctx context.Context, slug string) (*entity.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.identities[slug]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("identity %s not found", slug))
	}
	cp := *id
	return &cp, nil
}

// FindAll implements repository.IdentityRepository, ordered by slug.
func (r *YAMLIdentityRepository) FindAll(ctx context.Context) ([]*entity.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(), nil
}

// Save implements repository.IdentityRepository.
func (r *YAMLIdentityRepository) Save(ctx context.Context, identity *entity.Identity) error {
	if identity == nil || identity.Slug == "" {
		return apperrors.NewInvalidInputError("identity needs a slug")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.identities[identity.Slug]; exists {
		return apperrors.NewAlreadyExistsError(fmt.Sprintf("identity %s already exists", identity.Slug))
	}
	cp := *identity
	r.identities[identity.Slug] = &cp
	if err := r.flushLocked(); err != nil {
		delete(r.identities, identity.Slug)
		return err
	}
	return nil
}

// MarkPublished implements repository.IdentityRepository.
func (r *YAMLIdentityRepository) MarkPublished(ctx context.Context, slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.identities[slug]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("identity %s not found", slug))
	}
	if id.Published {
		return nil
	}
	id.Published = true
	if err := r.flushLocked(); err != nil {
		id.Published = false
		return err
	}
	return nil
}

func (r *YAMLIdentityRepository) sortedLocked() []*entity.Identity {
	out := make([]*entity.Identity, 0, len(r.identities))
	for _, id := range r.identities {
		cp := *id
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

func (r *YAMLIdentityRepository) flushLocked() error {
	data, err := yaml.Marshal(identityFile{Identities: r.sortedLocked()})
	if err != nil {
		return apperrors.NewPersistenceError("encode identities", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return apperrors.NewPersistenceError("create identities dir", err)
	}
	if err := writeFileAtomic(r.path, data); err != nil {
		return apperrors.NewPersistenceError("write identities", err)
	}
	return os.Chmod(r.path, 0o600)
}
