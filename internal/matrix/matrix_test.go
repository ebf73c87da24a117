package matrix

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("FROM scratch\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestGenerateOutput(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "spacy.dockerfile", "oracledb.dockerfile", "README.md", "dask.dockerfile")
	t.Setenv("REPOSITORY_OWNER", "jupyter")

	m, err := Generate(dir, Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	got, err := m.Output()
	if err != nil {
		t.Fatal(err)
	}
	want := `matrix={"dockerfile":["dask.dockerfile","oracledb.dockerfile","spacy.dockerfile"],` +
		`"runs-on":["ubuntu-24.04","ubuntu-22.04-arm"],` +
		`"exclude":[{"dockerfile":"oracledb.dockerfile","runs-on":"ubuntu-22.04-arm"}]}`
	if got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}

func TestGenerateRequiresOwner(t *testing.T) {
	t.Setenv("REPOSITORY_OWNER", "")
	if _, err := Generate(t.TempDir(), Options{}); !errors.Is(err, ErrOwnerMissing) {
		t.Fatalf("expected ErrOwnerMissing, got %v", err)
	}
	if _, err := Generate(t.TempDir(), Options{Owner: "acme"}); err != nil {
		t.Fatalf("explicit owner should satisfy the check: %v", err)
	}
}

func TestGenerateEmptyDir(t *testing.T) {
	m, err := Generate(t.TempDir(), Options{Owner: "acme", RunsOn: []string{"self-hosted"}, Exclude: []Exclusion{}})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := m.JSON()
	if got != `{"dockerfile":[],"runs-on":["self-hosted"],"exclude":[]}` {
		t.Fatalf("unexpected %s", got)
	}
}

func TestExclusionsFromMaps(t *testing.T) {
	if ExclusionsFromMaps(nil) != nil {
		t.Fatal("nil maps should keep the default")
	}
	ex := ExclusionsFromMaps([]map[string]string{{"dockerfile": "a.dockerfile", "runs-on": "arm"}})
	if len(ex) != 1 || ex[0] != (Exclusion{Dockerfile: "a.dockerfile", RunsOn: "arm"}) {
		t.Fatalf("unexpected %v", ex)
	}
}
