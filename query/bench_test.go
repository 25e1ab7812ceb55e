package query_test

import (
	"testing"

	"github.com/blazeorm/blaze/query"
)

func BenchmarkCompileSelect(b *testing.B) {
	person := personType(b)
	qs := query.NewQuerySet(person, newFakeExec()).
		Filter(query.L{"age__gte": 18, "name__contains": "a"}).
		OrderBy("-age", "name").
		Limit(20)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, _, err := qs.SQL(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCompileSelectWithJoin(b *testing.B) {
	_, book, _ := libraryTypes(b)
	qs := query.NewQuerySet(book, newFakeExec()).
		Filter(query.L{"title__contains": "Dune"}).
		SelectRelated("author")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, _, err := qs.SQL(); err != nil {
			b.Fatal(err)
		}
	}
}
