package fs

import (
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"medialib/internal/config"
	"medialib/internal/media"
)

// NameMatcher checks upload names against deny patterns. Matching is on the
// lower-cased base name, so "*.php" also catches "Shell.PHP".
type NameMatcher struct {
	patterns []string
}

// NewNameMatcher creates a NameMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped.
func NewNameMatcher(rawPatterns []string) *NameMatcher {
	var patterns []string
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, strings.ToLower(raw))
	}
	return &NameMatcher{patterns: patterns}
}

// Match returns the first pattern name matches, or "".
func (m *NameMatcher) Match(name string) string {
	base := strings.ToLower(path.Base(strings.ReplaceAll(name, `\`, "/")))
	for _, p := range m.patterns {
		matched, err := path.Match(p, base)
		if err != nil {
			// Bad pattern: skip rather than crash.
			continue
		}
		if matched {
			return p
		}
	}
	return ""
}

// UploadPolicy implements media.UploadPolicy with deny patterns, a mime type
// allowlist checked against sniffed content, and a size limit.
type UploadPolicy struct {
	deny     *NameMatcher
	allowed  []string
	maxBytes int64
}

// NewUploadPolicy builds the policy from config. An empty allowlist accepts
// every type.
func NewUploadPolicy(cfg config.PolicyConfig) *UploadPolicy {
	allowed := make([]string, 0, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			allowed = append(allowed, t)
		}
	}
	return &UploadPolicy{
		deny:     NewNameMatcher(cfg.Deny),
		allowed:  allowed,
		maxBytes: cfg.MaxBytes,
	}
}

func (p *UploadPolicy) CheckName(name string) error {
	if pattern := p.deny.Match(name); pattern != "" {
		return fmt.Errorf("name %q matches deny pattern %q", name, pattern)
	}
	return nil
}

// DetectType sniffs head. When the content says nothing more specific than
// "binary", the extension decides.
func (p *UploadPolicy) DetectType(name string, head []byte) (string, error) {
	detected := mimetype.Detect(head)
	typ := baseType(detected.String())
	if detected.Is("application/octet-stream") {
		if byExt := baseType(mime.TypeByExtension(strings.ToLower(path.Ext(name)))); byExt != "" {
			typ = byExt
		}
	}

	if len(p.allowed) == 0 {
		return typ, nil
	}
	for _, allowed := range p.allowed {
		if typeMatches(allowed, typ) {
			return typ, nil
		}
		for m := detected; m != nil; m = m.Parent() {
			if typeMatches(allowed, baseType(m.String())) {
				return typ, nil
			}
		}
	}
	return "", fmt.Errorf("type %s is not allowed", typ)
}

func (p *UploadPolicy) MaxBytes() int64 {
	return p.maxBytes
}

// baseType strips parameters such as "; charset=utf-8".
func baseType(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.ToLower(strings.TrimSpace(t))
}

// typeMatches supports exact types and "major/*" wildcards.
func typeMatches(pattern, typ string) bool {
	if major, ok := strings.CutSuffix(pattern, "/*"); ok {
		return strings.HasPrefix(typ, major+"/")
	}
	return pattern == typ
}

var _ media.UploadPolicy = (*UploadPolicy)(nil)
