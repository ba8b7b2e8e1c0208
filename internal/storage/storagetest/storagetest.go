// Package storagetest opens throwaway SQLite stores for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"educheck/internal/school"
	"educheck/internal/storage"
	logx "educheck/pkg/logx"
)

// Open returns a migrated store backed by a file in t.TempDir().
func Open(t testing.TB) *storage.Store {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "educheck.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// Student seeds one student in the given grade and returns it as read back.
func Student(t testing.TB, st *storage.Store, grade int, surnames, names, document, handle string) school.Student {
	t.Helper()
	ctx := context.Background()
	gid, err := st.UpsertGrade(ctx, grade)
	if err != nil {
		t.Fatalf("seed grade: %v", err)
	}
	if _, err := st.UpsertStudent(ctx, school.Student{
		Surnames:       surnames,
		Names:          names,
		DocType:        "TI",
		Document:       document,
		GuardianHandle: handle,
		GradeID:        gid,
	}); err != nil {
		t.Fatalf("seed student: %v", err)
	}
	s, err := st.StudentByDocument(ctx, document)
	if err != nil {
		t.Fatalf("read student: %v", err)
	}
	return s
}
