package media

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

// fakeExister answers Exists from a fixed set of paths.
type fakeExister struct {
	paths map[string]bool
	err   error
}

func (f *fakeExister) Exists(p string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.paths[p], nil
}

func TestDefaultPathPolicy_BaseDir(t *testing.T) {
	tests := []struct {
		tenant int64
		status Status
		owner  int64
		want   string
	}{
		{MainTenant, StatusPublic, 7, "public/7"},
		{0, StatusPrivate, 7, "private/7"},
		{3, StatusPrivate, 12, "sites/3/private/12"},
	}
	for _, tt := range tests {
		if got := (DefaultPathPolicy{}).BaseDir(tt.tenant, tt.status, tt.owner); got != tt.want {
			t.Errorf("BaseDir(%d, %s, %d) = %q, want %q", tt.tenant, tt.status, tt.owner, got, tt.want)
		}
	}
}

func TestPathResolver_TargetDir(t *testing.T) {
	root := filepath.FromSlash("/srv/uploads")
	r := NewPathResolver(root, "http://localhost/uploads/", nil, &fakeExister{})

	abs, rel, err := r.TargetDir(MainTenant, StatusPublic, 7, nil)
	if err != nil {
		t.Fatalf("TargetDir(nil) error = %v", err)
	}
	if want := filepath.Join(root, "public", "7"); abs != want || rel != "" {
		t.Errorf("TargetDir(nil) = %q, %q; want %q, \"\"", abs, rel, want)
	}

	vacation := &Entry{ID: 3, TenantID: MainTenant, OwnerID: 7, Kind: KindDirectory, Status: StatusPublic, RelativePath: "Vacation"}
	abs, rel, err = r.TargetDir(MainTenant, StatusPublic, 7, vacation)
	if err != nil {
		t.Fatalf("TargetDir(dir) error = %v", err)
	}
	if want := filepath.Join(root, "public", "7", "Vacation"); abs != want || rel != "Vacation" {
		t.Errorf("TargetDir(dir) = %q, %q; want %q, %q", abs, rel, want, "Vacation")
	}

	file := &Entry{ID: 4, Kind: KindFile, RelativePath: "Vacation/beach.jpg"}
	if _, _, err := r.TargetDir(MainTenant, StatusPublic, 7, file); err == nil {
		t.Error("TargetDir(file) expected error")
	}
}

func TestPathResolver_URL(t *testing.T) {
	r := NewPathResolver("/srv/uploads", "http://localhost/uploads/", nil, &fakeExister{})

	public := &Entry{ID: 5, TenantID: MainTenant, OwnerID: 7, Kind: KindFile, Status: StatusPublic, Slug: "beach-house", RelativePath: "Vacation/beach house.jpg"}
	if got, want := r.URL(public), "http://localhost/uploads/public/7/Vacation/beach%20house.jpg"; got != want {
		t.Errorf("URL(public) = %q, want %q", got, want)
	}

	private := &Entry{ID: 6, TenantID: 3, OwnerID: 7, Kind: KindFile, Status: StatusPrivate, Slug: "notes", RelativePath: "notes.txt"}
	if got, want := r.URL(private), "http://localhost/uploads/download/3/6/notes"; got != want {
		t.Errorf("URL(private) = %q, want %q", got, want)
	}
}

func TestPathResolver_UniqueName(t *testing.T) {
	dir := filepath.FromSlash("/srv/uploads/public/7")

	t.Run("free name is kept", func(t *testing.T) {
		r := NewPathResolver("/srv/uploads", "", nil, &fakeExister{paths: map[string]bool{dir: true}})
		got, err := r.UniqueName(dir, "beach.jpg")
		if err != nil {
			t.Fatalf("UniqueName() error = %v", err)
		}
		if got != "beach.jpg" {
			t.Errorf("UniqueName() = %q, want %q", got, "beach.jpg")
		}
	})

	t.Run("suffix goes before the extension", func(t *testing.T) {
		r := NewPathResolver("/srv/uploads", "", nil, &fakeExister{paths: map[string]bool{
			dir:                                true,
			filepath.Join(dir, "beach.jpg"):    true,
			filepath.Join(dir, "beach-1.jpg"):  true,
			filepath.Join(dir, "beach-3.jpg"):  true,
			filepath.Join(dir, "archive.tar"):  true,
			filepath.Join(dir, "Vacation"):     true,
			filepath.Join(dir, "Vacation-1"):   true,
			filepath.Join(dir, "archive-1.gz"): true,
		}})
		tests := map[string]string{
			"beach.jpg":      "beach-2.jpg",
			"Vacation":       "Vacation-2",
			"archive.tar.gz": "archive.tar.gz",
		}
		for desired, want := range tests {
			got, err := r.UniqueName(dir, desired)
			if err != nil {
				t.Fatalf("UniqueName(%q) error = %v", desired, err)
			}
			if got != want {
				t.Errorf("UniqueName(%q) = %q, want %q", desired, got, want)
			}
		}
	})

	t.Run("missing target directory", func(t *testing.T) {
		r := NewPathResolver("/srv/uploads", "", nil, &fakeExister{paths: map[string]bool{}})
		_, err := r.UniqueName(dir, "beach.jpg")
		if !IsCode(err, ErrNotFound) {
			t.Errorf("UniqueName() error = %v, want NotFound", err)
		}
	})

	t.Run("probe failure", func(t *testing.T) {
		r := NewPathResolver("/srv/uploads", "", nil, &fakeExister{err: errors.New("permission denied")})
		_, err := r.UniqueName(dir, "beach.jpg")
		if !IsCode(err, ErrStorageIO) {
			t.Errorf("UniqueName() error = %v, want StorageIOFailure", err)
		}
	})
}

func TestSplitExt(t *testing.T) {
	tests := []struct {
		in, stem, ext string
	}{
		{"photo.jpg", "photo", ".jpg"},
		{"archive.tar.gz", "archive.tar", ".gz"},
		{"noext", "noext", ""},
		{".bashrc", ".bashrc", ""},
		{"trailing.", "trailing.", ""},
	}
	for _, tt := range tests {
		stem, ext := SplitExt(tt.in)
		if stem != tt.stem || ext != tt.ext {
			t.Errorf("SplitExt(%q) = %q, %q; want %q, %q", tt.in, stem, ext, tt.stem, tt.ext)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"beach.jpg":                "beach.jpg",
		"../../etc/passwd":         "passwd",
		`C:\Users\me\photo.jpg`:    "photo.jpg",
		"  .hidden ":               "hidden",
		"..":                       "",
		"/":                        "",
		"a\x00b.txt":               "ab.txt",
		"Vacation Photos 2024":     "Vacation Photos 2024",
		"report\r\nfinal.pdf":      "reportfinal.pdf",
		"dir/with/trailing/slash/": "slash",
	}
	for in, want := range tests {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}

	long := []struct {
		name, in, want string
	}{
		{"long extension is cut with the name", "a." + strings.Repeat("b", 250), "a." + strings.Repeat("b", 198)},
		{"short extension is kept", strings.Repeat("c", 250) + ".jpg", strings.Repeat("c", 196) + ".jpg"},
		{"multibyte stem is cut on a rune boundary", strings.Repeat("é", 150) + ".png", strings.Repeat("é", 98) + ".png"},
		{"odd cut drops the partial rune", "x" + strings.Repeat("é", 150) + ".png", "x" + strings.Repeat("é", 97) + ".png"},
	}
	for _, tt := range long {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeName(tt.in)
			if got != tt.want {
				t.Errorf("SanitizeName() = %d bytes, want %d bytes", len(got), len(tt.want))
			}
			if len(got) > 200 {
				t.Errorf("SanitizeName() = %d bytes, want at most 200", len(got))
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Beach House!":          "beach-house",
		"  --Ünïcode  Title-- ": "ünïcode-title",
		"!!!":                   "entry",
		"Photo 2024.jpg":        "photo-2024-jpg",
		"already-a-slug":        "already-a-slug",
	}
	for in, want := range tests {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
	if got := FileSlug("Beach House.JPG"); got != "beach-house" {
		t.Errorf("FileSlug() = %q, want %q", got, "beach-house")
	}
}

func TestKilobytesFor(t *testing.T) {
	tests := map[int64]int64{-5: 0, 0: 0, 999: 0, 1000: 1, 1999: 1, 2_500_000: 2500}
	for in, want := range tests {
		if got := KilobytesFor(in); got != want {
			t.Errorf("KilobytesFor(%d) = %d, want %d", in, got, want)
		}
	}
}
