// Package testdata loads FHIRPath test suites in the XML format used by
// the official specification test publications, together with their
// JSON input resources.
package testdata

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/probemed/fhirpath"
	"github.com/probemed/fhirpath/jsonnode"
)

type Suite struct {
	Name        string   `xml:"name,attr"`
	Description string   `xml:"description,attr"`
	Groups      []*Group `xml:"group"`
}

type Group struct {
	Name        string `xml:"name,attr"`
	Description string `xml:"description,attr"`
	Tests       []Case `xml:"test"`
}

type Case struct {
	Name        string     `xml:"name,attr"`
	Description string     `xml:"description,attr"`
	InputFile   string     `xml:"inputfile,attr"`
	Mode        string     `xml:"mode,attr"`
	Predicate   bool       `xml:"predicate,attr"`
	Invalid     string     `xml:"invalid,attr"`
	Expression  Expression `xml:"expression"`
	Output      []Output   `xml:"output"`
}

type Expression struct {
	Invalid string `xml:"invalid,attr"`
	Source  string `xml:",chardata"`
}

// ExpectError reports whether the case expects parsing or evaluation to
// fail instead of producing output.
func (c Case) ExpectError() bool {
	return c.Invalid != "" || c.Expression.Invalid != ""
}

// ExpectedCollection assembles the expected outputs as a collection so
// a test can compare it against an evaluation result.
func (c Case) ExpectedCollection() fhirpath.Collection {
	var collection fhirpath.Collection
	for _, o := range c.Output {
		collection = append(collection, o)
	}
	return collection
}

// LoadSuite reads a suite definition from an XML file. The official
// files contain bare comparison operators inside expression text, which
// are escaped before decoding.
func LoadSuite(path string) (Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Suite{}, err
	}
	data = bytes.ReplaceAll(data, []byte("< "), []byte("&lt; "))
	data = bytes.ReplaceAll(data, []byte("<="), []byte("&lt;="))

	var suite Suite
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&suite); err != nil {
		return Suite{}, fmt.Errorf("decoding suite %s: %w", path, err)
	}

	for _, g := range suite.Groups {
		for i := range g.Tests {
			for j := range g.Tests[i].Output {
				g.Tests[i].Output[j].inferType()
			}
		}
	}
	return suite, nil
}

// LoadInput reads a JSON input resource from dir by filename.
func LoadInput(dir, filename string) (jsonnode.Node, error) {
	data, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		return jsonnode.Node{}, err
	}
	return jsonnode.Parse(data)
}

// Output is a single expected result value. It implements
// fhirpath.Element so expected and actual collections compare directly.
type Output struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// inferType fills in the type attribute for suite files that omit it,
// guessing from the literal syntax of the value.
func (o *Output) inferType() {
	if o.Type != "" {
		return
	}
	value := strings.TrimSpace(o.Value)
	if value == "" {
		return
	}

	if strings.HasPrefix(value, "@T") {
		if _, err := fhirpath.ParseTime(value); err == nil {
			o.Type = "time"
			return
		}
	}
	if strings.HasPrefix(value, "@") {
		if _, err := fhirpath.ParseDateTime(value); err == nil {
			o.Type = "dateTime"
			return
		}
		if _, err := fhirpath.ParseDate(value); err == nil {
			o.Type = "date"
			return
		}
	}
	if _, err := fhirpath.ParseQuantity(value); err == nil {
		o.Type = "Quantity"
		return
	}
	switch strings.ToLower(value) {
	case "true", "false":
		o.Type = "boolean"
		return
	}
	if strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'") && len(value) >= 2 {
		o.Type = "string"
		return
	}
	if strings.ContainsAny(value, ".eE") {
		o.Type = "decimal"
		return
	}
	if _, err := strconv.Atoi(value); err == nil {
		o.Type = "integer"
		return
	}
	o.Type = "string"
}

func (o Output) element() fhirpath.Element {
	switch o.Type {
	case "boolean":
		b, err := strconv.ParseBool(o.Value)
		if err != nil {
			panic(err)
		}
		return fhirpath.Boolean(b)
	case "string", "code", "id", "uri":
		return fhirpath.String(o.Value)
	case "integer":
		i, err := strconv.ParseInt(o.Value, 10, 32)
		if err != nil {
			panic(err)
		}
		return fhirpath.Integer(i)
	case "long":
		i, err := strconv.ParseInt(o.Value, 10, 64)
		if err != nil {
			panic(err)
		}
		return fhirpath.Long(i)
	case "decimal":
		d, _, err := apd.NewFromString(o.Value)
		if err != nil {
			panic(err)
		}
		return fhirpath.Decimal{Value: d}
	case "date":
		d, err := fhirpath.ParseDate(o.Value)
		if err != nil {
			panic(err)
		}
		return d
	case "time":
		t, err := fhirpath.ParseTime(o.Value)
		if err != nil {
			panic(err)
		}
		return t
	case "dateTime":
		dt, err := fhirpath.ParseDateTime(o.Value)
		if err != nil {
			panic(err)
		}
		return dt
	case "Quantity":
		q, err := fhirpath.ParseQuantity(o.Value)
		if err != nil {
			panic(err)
		}
		return q
	}
	panic(fmt.Sprintf("unsupported output type %q", o.Type))
}

func (o Output) Children(name ...string) fhirpath.Collection {
	return nil
}

func (o Output) ToBoolean(explicit bool) (fhirpath.Boolean, bool, error) {
	v, ok := o.element().(fhirpath.Boolean)
	return v, ok, nil
}

func (o Output) ToString(explicit bool) (fhirpath.String, bool, error) {
	v, ok := o.element().(fhirpath.String)
	return v, ok, nil
}

func (o Output) ToInteger(explicit bool) (fhirpath.Integer, bool, error) {
	v, ok := o.element().(fhirpath.Integer)
	return v, ok, nil
}

func (o Output) ToLong(explicit bool) (fhirpath.Long, bool, error) {
	v, ok := o.element().(fhirpath.Long)
	return v, ok, nil
}

func (o Output) ToDecimal(explicit bool) (fhirpath.Decimal, bool, error) {
	v, ok := o.element().(fhirpath.Decimal)
	return v, ok, nil
}

func (o Output) ToDate(explicit bool) (fhirpath.Date, bool, error) {
	v, ok := o.element().(fhirpath.Date)
	return v, ok, nil
}

func (o Output) ToTime(explicit bool) (fhirpath.Time, bool, error) {
	v, ok := o.element().(fhirpath.Time)
	return v, ok, nil
}

func (o Output) ToDateTime(explicit bool) (fhirpath.DateTime, bool, error) {
	v, ok := o.element().(fhirpath.DateTime)
	return v, ok, nil
}

func (o Output) ToQuantity(explicit bool) (fhirpath.Quantity, bool, error) {
	v, ok := o.element().(fhirpath.Quantity)
	return v, ok, nil
}

func (o Output) Equal(other fhirpath.Element) (bool, bool) {
	return o.element().Equal(other)
}

func (o Output) Equivalent(other fhirpath.Element) bool {
	return o.element().Equivalent(other)
}

func (o Output) TypeInfo() fhirpath.TypeInfo {
	return o.element().TypeInfo()
}

func (o Output) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.element())
}

func (o Output) String() string {
	return o.element().String()
}
