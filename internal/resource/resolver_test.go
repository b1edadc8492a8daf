package resource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeAsset(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFSResolverLocaleFirst(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "myapp/audio/en-GB/bark.wav", []byte("localized"))
	writeAsset(t, root, "myapp/audio/bark.wav", []byte("plain"))

	r := NewFSResolver([]string{root}, "en-GB", 1)
	asset, err := r.Resolve(context.Background(), "myapp/audio/bark.wav", KindAudio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(asset.Data) != "localized" {
		t.Errorf("expected locale-qualified asset preferred, got %q", asset.Data)
	}
}

func TestFSResolverFallsBackWithoutLocale(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "myapp/audio/bark.wav", []byte("plain"))

	r := NewFSResolver([]string{root}, "en-GB", 1)
	asset, err := r.Resolve(context.Background(), "myapp/audio/bark.wav", KindAudio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(asset.Data) != "plain" {
		t.Errorf("expected plain asset, got %q", asset.Data)
	}
}

func TestFSResolverSemicolonFallback(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "myapp/audio/second.wav", []byte("second"))

	r := NewFSResolver([]string{root}, "", 1)
	asset, err := r.Resolve(context.Background(), "myapp/audio/missing.wav;myapp/audio/second.wav", KindAudio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if asset.Ref != "myapp/audio/second.wav" {
		t.Errorf("expected the matching fallback component recorded, got %q", asset.Ref)
	}
}

func TestFSResolverRejectsAbsolutePath(t *testing.T) {
	root := t.TempDir()
	r := NewFSResolver([]string{root}, "", 1)
	_, err := r.Resolve(context.Background(), "/etc/passwd", KindAudio)
	if err == nil {
		t.Fatal("expected absolute path to be rejected")
	}
}

func TestFSResolverRejectsPathTraversal(t *testing.T) {
	root := t.TempDir()
	r := NewFSResolver([]string{root}, "", 1)
	_, err := r.Resolve(context.Background(), "../../etc/passwd", KindAudio)
	if err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

func TestFSResolverWildcard(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "myapp/audio/a.wav", []byte("a"))
	writeAsset(t, root, "myapp/audio/b.wav", []byte("b"))

	r := NewFSResolver([]string{root}, "", 42)
	asset, err := r.Resolve(context.Background(), "*myapp/audio/*.wav", KindAudio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if asset.Path == "" {
		t.Error("expected a resolved path from the glob")
	}
}

func TestFSResolverWildcardDeterministic(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "myapp/audio/a.wav", []byte("a"))
	writeAsset(t, root, "myapp/audio/b.wav", []byte("b"))
	writeAsset(t, root, "myapp/audio/c.wav", []byte("c"))

	r1 := NewFSResolver([]string{root}, "", 7)
	r2 := NewFSResolver([]string{root}, "", 7)

	a1, err := r1.Resolve(context.Background(), "*myapp/audio/*.wav", KindAudio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a2, err := r2.Resolve(context.Background(), "*myapp/audio/*.wav", KindAudio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a1.Path != a2.Path {
		t.Errorf("same seed should pick the same wildcard match, got %q and %q", a1.Path, a2.Path)
	}
}

func TestFSResolverResolveAllOrder(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "myapp/audio/one.wav", []byte("1"))
	writeAsset(t, root, "myapp/audio/two.wav", []byte("2"))

	r := NewFSResolver([]string{root}, "", 1)
	assets, err := r.ResolveAll(context.Background(), []string{"myapp/audio/one.wav", "myapp/audio/two.wav"}, KindAudio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assets) != 2 || string(assets[0].Data) != "1" || string(assets[1].Data) != "2" {
		t.Fatalf("unexpected resolution order: %+v", assets)
	}
}

func TestFSResolverMissingAsset(t *testing.T) {
	root := t.TempDir()
	r := NewFSResolver([]string{root}, "", 1)
	_, err := r.Resolve(context.Background(), "myapp/audio/ghost.wav", KindAudio)
	if err == nil {
		t.Fatal("expected error for missing asset")
	}
}
