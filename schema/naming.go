package schema

import (
	"unicode"
	"unicode/utf8"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
)

// Operations holds the GraphQL operation names derived for one model,
// mirroring the resolver surface generated over the schema.
type Operations struct {
	Model string

	// Query side.
	FindOne   string // work
	FindMany  string // works
	FindFirst string // findFirstWork
	Aggregate string // aggregateWork
	GroupBy   string // groupByWork

	// Mutation side.
	CreateOne  string // createOneWork
	CreateMany string // createManyWork
	UpdateOne  string // updateOneWork
	UpdateMany string // updateManyWork
	DeleteOne  string // deleteOneWork
	DeleteMany string // deleteManyWork
}

var folder = cases.Fold()

// OperationsFor derives the operation names for the given model name.
func OperationsFor(model string) Operations {
	lower := lowerFirst(model)
	return Operations{
		Model:      model,
		FindOne:    lower,
		FindMany:   inflect.Pluralize(lower),
		FindFirst:  "findFirst" + model,
		Aggregate:  "aggregate" + model,
		GroupBy:    "groupBy" + model,
		CreateOne:  "createOne" + model,
		CreateMany: "createMany" + model,
		UpdateOne:  "updateOne" + model,
		UpdateMany: "updateMany" + model,
		DeleteOne:  "deleteOne" + model,
		DeleteMany: "deleteMany" + model,
	}
}

// EqualFold reports whether two identifiers are equal under Unicode case
// folding. Used where operation names arrive with client-side casing.
func EqualFold(a, b string) bool {
	return folder.String(a) == folder.String(b)
}

// SingularOf returns the singular form of a pluralized field name, e.g.
// the model behind a "works" collection field.
func SingularOf(name string) string {
	return inflect.Singularize(name)
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
