package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitrijs2005/cloudup/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uploadResponse(id string, version int) map[string]any {
	return map[string]any{
		"public_id": id,
		"version":   float64(version),
		"format":    "png",
		"url":       "http://res.cloudinary.com/demo/image/upload/v" + itoa(version) + "/" + id + ".png",
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func uploaded(cwd, name string, fields map[string]any) *pipeline.File {
	f := &pipeline.File{
		Cwd:      cwd,
		Base:     filepath.Join(cwd, "src", "images"),
		Path:     filepath.Join(cwd, "src", "images", name),
		Contents: []byte{},
	}
	f.SetUpload(&pipeline.Upload{Fields: fields, ManifestKey: name})
	return f
}

// run pushes files through a fresh stage and returns what it emitted.
func run(t *testing.T, opts Options, files ...*pipeline.File) []*pipeline.File {
	t.Helper()
	s, err := New(opts, nil)
	require.NoError(t, err)

	out, err := pipeline.New(nil).Pipe(s).Run(context.Background(), files)
	require.NoError(t, err)
	return out
}

func decode(t *testing.T, f *pipeline.File) map[string]any {
	t.Helper()
	var got map[string]any
	require.NoError(t, json.Unmarshal(f.Contents, &got))
	return got
}

func copyFixture(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "cloudinary-manifest.json"))
	require.NoError(t, err)
	p := filepath.Join(dir, "cloudinary-manifest.json")
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestStage_BuildsManifest(t *testing.T) {
	cwd := t.TempDir()
	blue := uploadResponse("bluepixel", 1526590450)

	out := run(t, Options{Cwd: cwd}, uploaded(cwd, "bluepixel.png", blue))
	require.Len(t, out, 1)

	f := out[0]
	assert.Equal(t, "cloudinary-manifest.json", f.Relative())
	assert.Equal(t, filepath.Join(cwd, "cloudinary-manifest.json"), f.Path)
	if diff := cmp.Diff(map[string]any{"bluepixel.png": blue}, decode(t, f)); diff != "" {
		t.Fatalf("manifest mismatch (-want +got):\n%s", diff)
	}
	_, ok := f.Upload()
	assert.False(t, ok, "manifest file carries no upload metadata")
}

func TestStage_NamedManifest(t *testing.T) {
	cwd := t.TempDir()

	out := run(t, Options{Cwd: cwd, Path: "manifest.json"}, uploaded(cwd, "a.png", uploadResponse("a", 1)))
	require.Len(t, out, 1)
	assert.Equal(t, "manifest.json", out[0].Relative())

	out = run(t, Options{Cwd: cwd, Path: "build/assets/manifest.json"}, uploaded(cwd, "a.png", uploadResponse("a", 1)))
	require.Len(t, out, 1)
	assert.Equal(t, "manifest.json", out[0].Relative())
	assert.Equal(t, filepath.Join(cwd, "build", "assets"), out[0].Base)
}

func TestStage_TwoFilesPrettyPrinted(t *testing.T) {
	cwd := t.TempDir()

	out := run(t, Options{Cwd: cwd},
		uploaded(cwd, "a.png", map[string]any{"public_id": "a"}),
		uploaded(cwd, "b.png", map[string]any{"public_id": "b"}),
	)
	require.Len(t, out, 1)

	want := "{\n" +
		"  \"a.png\": {\n" +
		"    \"public_id\": \"a\"\n" +
		"  },\n" +
		"  \"b.png\": {\n" +
		"    \"public_id\": \"b\"\n" +
		"  }\n" +
		"}"
	assert.Equal(t, want, string(out[0].Contents))
}

func TestStage_MergesExistingManifest(t *testing.T) {
	cwd := t.TempDir()
	path := copyFixture(t, cwd)
	blue := uploadResponse("bluepixel", 1526590450)

	out := run(t, Options{Cwd: cwd, Path: path, Merge: true}, uploaded(cwd, "bluepixel.png", blue))
	require.Len(t, out, 1)

	f := out[0]
	assert.Equal(t, "cloudinary-manifest.json", f.Relative())
	want := map[string]any{
		"redpixel.png":  uploadResponse("redpixel", 1798111345),
		"bluepixel.png": blue,
	}
	if diff := cmp.Diff(want, decode(t, f)); diff != "" {
		t.Fatalf("manifest mismatch (-want +got):\n%s", diff)
	}
	assert.Less(t,
		strings.Index(string(f.Contents), "redpixel.png"),
		strings.Index(string(f.Contents), "bluepixel.png"),
		"old entries come first")
}

func TestStage_MergeNewValueWins(t *testing.T) {
	cwd := t.TempDir()
	path := copyFixture(t, cwd)
	fresh := uploadResponse("redpixel", 1900000000)

	out := run(t, Options{Cwd: cwd, Path: path, Merge: true}, uploaded(cwd, "redpixel.png", fresh))
	require.Len(t, out, 1)

	if diff := cmp.Diff(map[string]any{"redpixel.png": fresh}, decode(t, out[0])); diff != "" {
		t.Fatalf("manifest mismatch (-want +got):\n%s", diff)
	}
}

func TestStage_NoMergeByDefault(t *testing.T) {
	cwd := t.TempDir()
	path := copyFixture(t, cwd)
	blue := uploadResponse("bluepixel", 1526590450)

	out := run(t, Options{Cwd: cwd, Path: path}, uploaded(cwd, "bluepixel.png", blue))
	require.Len(t, out, 1)

	if diff := cmp.Diff(map[string]any{"bluepixel.png": blue}, decode(t, out[0])); diff != "" {
		t.Fatalf("manifest mismatch (-want +got):\n%s", diff)
	}
}

func TestStage_MergeWithMissingManifest(t *testing.T) {
	cwd := t.TempDir()
	blue := uploadResponse("bluepixel", 1526590450)

	out := run(t, Options{Cwd: cwd, Path: "missing/cloudinary-manifest.json", Merge: true}, uploaded(cwd, "bluepixel.png", blue))
	require.Len(t, out, 1)

	if diff := cmp.Diff(map[string]any{"bluepixel.png": blue}, decode(t, out[0])); diff != "" {
		t.Fatalf("manifest mismatch (-want +got):\n%s", diff)
	}
}

func TestStage_MergeToleratesInvalidJSON(t *testing.T) {
	cwd := t.TempDir()
	path := filepath.Join(cwd, "cloudinary-manifest.json")

	for name, body := range map[string]string{
		"garbage":    "{ not json",
		"array":      "[1, 2]",
		"empty file": "",
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			out := run(t, Options{Cwd: cwd, Merge: true}, uploaded(cwd, "a.png", map[string]any{"public_id": "a"}))
			require.Len(t, out, 1)
			assert.Equal(t, map[string]any{"a.png": map[string]any{"public_id": "a"}}, decode(t, out[0]))
		})
	}
}

func TestStage_EmitsNothingWithoutUploads(t *testing.T) {
	cwd := t.TempDir()
	plain := &pipeline.File{Cwd: cwd, Base: cwd, Path: filepath.Join(cwd, "a.png"), Contents: []byte("x")}

	assert.Empty(t, run(t, Options{Cwd: cwd}))
	assert.Empty(t, run(t, Options{Cwd: cwd}, plain))
}

func TestStage_SkipsFilesWithoutMetadata(t *testing.T) {
	cwd := t.TempDir()
	plain := &pipeline.File{Cwd: cwd, Base: cwd, Path: filepath.Join(cwd, "plain.png"), Contents: []byte("x")}

	out := run(t, Options{Cwd: cwd}, plain, uploaded(cwd, "a.png", map[string]any{"public_id": "a"}))
	require.Len(t, out, 1)
	assert.Equal(t, []string{"a.png"}, keys(decode(t, out[0])))
}

func TestStage_LastWriteWins(t *testing.T) {
	cwd := t.TempDir()

	out := run(t, Options{Cwd: cwd},
		uploaded(cwd, "a.png", map[string]any{"version": float64(1)}),
		uploaded(cwd, "b.png", map[string]any{"version": float64(1)}),
		uploaded(cwd, "a.png", map[string]any{"version": float64(2)}),
	)
	require.Len(t, out, 1)

	got := decode(t, out[0])
	assert.Equal(t, map[string]any{"version": float64(2)}, got["a.png"])
	assert.True(t, strings.Index(string(out[0].Contents), `"a.png"`) < strings.Index(string(out[0].Contents), `"b.png"`))
}

func TestStage_ReadErrorAbortsFlush(t *testing.T) {
	cwd := t.TempDir()
	s, err := New(Options{Cwd: cwd, Merge: true}, nil)
	require.NoError(t, err)

	denied := errors.New("permission denied")
	s.WithReader(func(string, pipeline.ReadOptions) (*pipeline.File, error) { return nil, denied })

	_, err = pipeline.New(nil).Pipe(s).Run(context.Background(), []*pipeline.File{uploaded(cwd, "a.png", map[string]any{})})
	assert.ErrorIs(t, err, denied)
}

func TestStage_FlushOnlyOnce(t *testing.T) {
	cwd := t.TempDir()
	s, err := New(Options{Cwd: cwd}, nil)
	require.NoError(t, err)

	_, err = s.Process(context.Background(), uploaded(cwd, "a.png", map[string]any{}))
	require.NoError(t, err)

	out, err := s.Flush(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, 1)

	_, err = s.Flush(context.Background())
	assert.ErrorIs(t, err, errAlreadyFlushed)
	_, err = s.Process(context.Background(), uploaded(cwd, "b.png", map[string]any{}))
	assert.ErrorIs(t, err, errAlreadyFlushed)
}

func TestNew_Defaults(t *testing.T) {
	s, err := New(Options{}, nil)
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "cloudinary-manifest.json"), s.Path())
	assert.Equal(t, "manifest", s.Name())
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
