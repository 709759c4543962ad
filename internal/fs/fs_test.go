package fs

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestRenameWithFallbackFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "forgecache-fs")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "store.lock")
	dst := filepath.Join(dir, "store.lock.backup")
	if err := ioutil.WriteFile(src, []byte("held"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := RenameWithFallback(src, dst); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be gone after rename", src)
	}
	data, err := ioutil.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "held" {
		t.Fatalf("expected contents to survive the rename, got %q", data)
	}
}

func TestRenameWithFallbackMissingSource(t *testing.T) {
	dir, err := ioutil.TempDir("", "forgecache-fs")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	err = RenameWithFallback(filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))
	if err == nil {
		t.Fatal("expected an error for a nonexistent source")
	}
}

func TestCopyDirRejectsExistingDestination(t *testing.T) {
	dir, err := ioutil.TempDir("", "forgecache-fs")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	if err := os.Mkdir(src, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(dst, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := CopyDir(src, dst); err != errDstExist {
		t.Fatalf("expected errDstExist, got %v", err)
	}
}

func TestCopyDirCopiesNestedTree(t *testing.T) {
	dir, err := ioutil.TempDir("", "forgecache-fs")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	if err := os.MkdirAll(filepath.Join(src, "objects", "pack"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(filepath.Join(src, "objects", "pack", "pack-1.pack"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := CopyDir(src, dst); err != nil {
		t.Fatal(err)
	}
	data, err := ioutil.ReadFile(filepath.Join(dst, "objects", "pack", "pack-1.pack"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "data" {
		t.Fatalf("unexpected copied contents %q", data)
	}
}

func TestCopyFilePreservesSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires elevated privileges on windows")
	}
	dir, err := ioutil.TempDir("", "forgecache-fs")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	target := filepath.Join(dir, "target")
	if err := ioutil.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, "link-copy")
	if err := copyFile(link, dst); err != nil {
		t.Fatal(err)
	}
	resolved, err := os.Readlink(dst)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != target {
		t.Fatalf("expected symlink copy to point at %s, got %s", target, resolved)
	}
}

func TestIsDir(t *testing.T) {
	dir, err := ioutil.TempDir("", "forgecache-fs")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	if ok, err := IsDir(dir); err != nil || !ok {
		t.Fatalf("expected IsDir(%s) to be true, got %v err=%v", dir, ok, err)
	}

	file := filepath.Join(dir, "f")
	if err := ioutil.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := IsDir(file); err == nil {
		t.Fatal("expected IsDir on a regular file to error")
	}
}
