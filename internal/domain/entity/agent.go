package entity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Identity 代理身份（密钥对 + 公开标识），创建后不可变
type Identity struct {
	Slug      string    `yaml:"slug" json:"slug"`
	PublicKey string    `yaml:"public_key" json:"public_key"`
	SecretKey string    `yaml:"secret_key" json:"-"`
	Published bool      `yaml:"published" json:"published"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// NormalizeSlug trims and lower-cases an agent or provider name. Config keys
// arrive lower-cased, so every lookup goes through here.
func NormalizeSlug(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateSlug rejects names that cannot be used as a storage key segment.
func ValidateSlug(slug string) error {
	if slug == "" || slug == "." || slug == ".." || strings.TrimSpace(slug) != slug {
		return fmt.Errorf("%w: %q", ErrInvalidAgentName, slug)
	}
	for _, r := range slug {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return fmt.Errorf("%w: %q", ErrInvalidAgentName, slug)
		}
	}
	return nil
}

// GenerateIdentity creates a fresh Ed25519 identity for slug.
func GenerateIdentity(slug string, now time.Time) (*Identity, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return &Identity{
		Slug:      slug,
		PublicKey: hex.EncodeToString(public),
		SecretKey: hex.EncodeToString(private.Seed()),
		CreatedAt: now,
	}, nil
}

// IdentityFromSecret restores an identity from configured secret material
// (hex-encoded 32-byte seed).
func IdentityFromSecret(slug, secretHex string) (*Identity, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("decoding secret for %s: %w", slug, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("secret for %s has %d bytes, want %d", slug, len(seed), ed25519.SeedSize)
	}
	private := ed25519.NewKeyFromSeed(seed)
	return &Identity{
		Slug:      slug,
		PublicKey: hex.EncodeToString(private.Public().(ed25519.PublicKey)),
		SecretKey: secretHex,
		Published: true,
	}, nil
}

// AgentProfile 代理的人设配置
type AgentProfile struct {
	Role         string `mapstructure:"role" yaml:"role" json:"role,omitempty"`
	Description  string `mapstructure:"description" yaml:"description" json:"description,omitempty"`
	Instructions string `mapstructure:"instructions" yaml:"instructions" json:"instructions,omitempty"`

	// SystemPrompt replaces the composed prompt verbatim when set.
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt" json:"system_prompt,omitempty"`
}
