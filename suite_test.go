package fhirpath_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/probemed/fhirpath"
	"github.com/probemed/fhirpath/jsonnode"
	"github.com/probemed/fhirpath/testdata"
)

// TestSuite runs the XML conformance cases under testdata against their
// JSON input resources.
func TestSuite(t *testing.T) {
	suite, err := testdata.LoadSuite("testdata/suite.xml")
	if err != nil {
		t.Fatal(err)
	}

	inputs := map[string]jsonnode.Node{}
	for _, group := range suite.Groups {
		group := group
		t.Run(group.Name, func(t *testing.T) {
			for _, test := range group.Tests {
				test := test
				t.Run(test.Name, func(t *testing.T) {
					input, ok := inputs[test.InputFile]
					if !ok {
						var err error
						input, err = testdata.LoadInput("testdata/input", test.InputFile)
						if err != nil {
							t.Fatal(err)
						}
						inputs[test.InputFile] = input
					}
					runSuiteCase(t, input, test)
				})
			}
		})
	}
}

func runSuiteCase(t *testing.T, input jsonnode.Node, test testdata.Case) {
	t.Helper()

	expr, err := fhirpath.Parse(strings.TrimSpace(test.Expression.Source))
	if err != nil {
		if test.ExpectError() {
			return
		}
		t.Fatalf("unexpected parse error: %v", err)
	}

	ctx := jsonnode.Context(context.Background(), input)
	result, err := fhirpath.Evaluate(ctx, input, expr)
	if err != nil {
		if test.ExpectError() {
			return
		}
		t.Fatalf("unexpected evaluation error: %v", err)
	}
	if test.ExpectError() {
		t.Fatalf("expected an error, got %s", result)
	}

	if test.Predicate {
		v, ok, err := fhirpath.Singleton[fhirpath.Boolean](result)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("expected a boolean result")
		}
		result = fhirpath.Collection{v}
	}

	expected := test.ExpectedCollection()
	if !expected.Equivalent(result) {
		t.Errorf("expression %q mismatch (-expected +actual):\n%s",
			test.Expression.Source, cmp.Diff(expected.String(), result.String()))
	}
}
