package media

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
)

// PathPolicy decides where a (tenant, status, owner) subtree lives, both on disk
// and under the public base URL. Deployments inject their own layout here.
type PathPolicy interface {
	// BaseDir returns the directory, relative to the upload root, that holds the
	// subtree. It must be slash-separated.
	BaseDir(tenantID int64, status Status, ownerID int64) string
}

// DefaultPathPolicy lays out {status}/{owner} for the main tenant and
// sites/{tenant}/{status}/{owner} for every other tenant.
type DefaultPathPolicy struct{}

func (DefaultPathPolicy) BaseDir(tenantID int64, status Status, ownerID int64) string {
	owner := strconv.FormatInt(ownerID, 10)
	if tenantID == MainTenant || tenantID == 0 {
		return path.Join(string(status), owner)
	}
	return path.Join("sites", strconv.FormatInt(tenantID, 10), string(status), owner)
}

// Exister is the part of the filesystem the resolver needs.
type Exister interface {
	Exists(path string) (bool, error)
}

// maxUniqueAttempts bounds the numeric suffix search in UniqueName.
const maxUniqueAttempts = 10000

// PathResolver translates tree positions to disk locations and URLs. Apart from
// UniqueName, which probes the filesystem, it performs no I/O.
type PathResolver struct {
	root    string
	baseURL string
	policy  PathPolicy
	fsys    Exister
}

// NewPathResolver creates a resolver for the upload root. A nil policy selects
// DefaultPathPolicy.
func NewPathResolver(root, baseURL string, policy PathPolicy, fsys Exister) *PathResolver {
	if policy == nil {
		policy = DefaultPathPolicy{}
	}
	return &PathResolver{
		root:    filepath.Clean(root),
		baseURL: strings.TrimRight(baseURL, "/"),
		policy:  policy,
		fsys:    fsys,
	}
}

// Root returns the upload root.
func (r *PathResolver) Root() string {
	return r.root
}

// BaseDir returns the absolute anchor directory of an owner's subtree.
func (r *PathResolver) BaseDir(tenantID int64, status Status, ownerID int64) string {
	return filepath.Join(r.root, filepath.FromSlash(r.policy.BaseDir(tenantID, status, ownerID)))
}

// DirectoryPath returns the stored relative path of a directory entry. It is
// fixed at creation and does not change as children come and go.
func (r *PathResolver) DirectoryPath(e *Entry) (string, error) {
	if e == nil || !e.IsDir() {
		return "", fmt.Errorf("resolving directory path: %v is not a directory", e)
	}
	return e.RelativePath, nil
}

// Abs returns the absolute location of an entry.
func (r *PathResolver) Abs(e *Entry) string {
	return r.AbsRelative(e.TenantID, e.Status, e.OwnerID, e.RelativePath)
}

// AbsRelative returns the absolute location of rel inside a subtree.
func (r *PathResolver) AbsRelative(tenantID int64, status Status, ownerID int64, rel string) string {
	return filepath.Join(r.BaseDir(tenantID, status, ownerID), filepath.FromSlash(rel))
}

// TargetDir returns the absolute directory new children of parent are placed
// in, and the relative path of that directory. A nil parent means ROOT.
func (r *PathResolver) TargetDir(tenantID int64, status Status, ownerID int64, parent *Entry) (abs string, rel string, err error) {
	if parent == nil {
		return r.BaseDir(tenantID, status, ownerID), "", nil
	}
	rel, err = r.DirectoryPath(parent)
	if err != nil {
		return "", "", err
	}
	return r.AbsRelative(tenantID, status, ownerID, rel), rel, nil
}

// UniqueName returns desired, or desired with a numeric suffix before the
// extension, such that nothing named so exists in targetDir yet. The check and
// the later create are not atomic; callers create with exclusive flags and
// retry on collision.
func (r *PathResolver) UniqueName(targetDir, desired string) (string, error) {
	ok, err := r.fsys.Exists(targetDir)
	if err != nil {
		return "", WrapError(ErrStorageIO, "unique_name", err, "checking %s", targetDir)
	}
	if !ok {
		return "", NewError(ErrNotFound, "unique_name", "target directory %s does not exist", targetDir)
	}

	stem, ext := SplitExt(desired)
	for i := 0; i < maxUniqueAttempts; i++ {
		candidate := desired
		if i > 0 {
			candidate = stem + "-" + strconv.Itoa(i) + ext
		}
		exists, err := r.fsys.Exists(filepath.Join(targetDir, candidate))
		if err != nil {
			return "", WrapError(ErrStorageIO, "unique_name", err, "checking %s", candidate)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", NewError(ErrStorageIO, "unique_name", "no free name for %q in %s", desired, targetDir)
}

// URL returns the address of an entry. Public entries are served straight from
// the upload tree; anything else goes through the access-controlled download
// endpoint.
func (r *PathResolver) URL(e *Entry) string {
	if e.Status.IsPublic() {
		rel := path.Join(r.policy.BaseDir(e.TenantID, e.Status, e.OwnerID), e.RelativePath)
		return r.baseURL + "/" + escapePath(rel)
	}
	return fmt.Sprintf("%s/download/%d/%d/%s", r.baseURL, e.TenantID, e.ID, url.PathEscape(e.Slug))
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// SplitExt splits "photo.jpg" into "photo" and ".jpg". Leading dots are part of
// the stem.
func SplitExt(name string) (stem, ext string) {
	ext = path.Ext(name)
	if ext == name || ext == "." {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

const (
	maxNameBytes = 200
	maxExtBytes  = 20
)

// SanitizeName reduces a user-supplied name to a single safe path component.
// It returns "" when nothing usable is left.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '/' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	name = strings.TrimLeft(name, ".")
	if len(name) > maxNameBytes {
		stem, ext := SplitExt(name)
		if len(ext) > maxExtBytes {
			stem, ext = name, ""
		}
		name = strings.ToValidUTF8(stem[:maxNameBytes-len(ext)], "") + ext
	}
	return name
}

// Slugify derives a URL-safe slug from a name: lower case letters and digits
// separated by single dashes.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	if b.Len() == 0 {
		return "entry"
	}
	return b.String()
}

// FileSlug is the slug of a file name: its stem, slugified.
func FileSlug(name string) string {
	stem, _ := SplitExt(name)
	return Slugify(stem)
}
