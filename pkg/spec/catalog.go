// Package spec loads P7 protocol specification documents and exposes the
// message and field definitions the codec validates against.
package spec

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	// P7Version is the version of the built-in P7 layer exchanged during the handshake.
	P7Version = "1.0"

	// PrivilegesCollection names the collection listing account privilege fields.
	PrivilegesCollection = "wired.account.privileges"

	// maxDocumentSize bounds documents fetched over HTTP.
	maxDocumentSize = 8 * 1024 * 1024
)

var (
	//go:embed specs/p7.xml
	p7Document []byte

	//go:embed specs/wired.xml
	wiredDocument []byte
)

// Field is a typed field definition.
type Field struct {
	Name  string
	ID    uint32
	Type  FieldType
	enums map[string]uint32
	names map[uint32]string
}

// EnumValue returns the value of a named enum constant of this field.
func (f *Field) EnumValue(name string) (uint32, bool) {
	v, ok := f.enums[name]
	return v, ok
}

// EnumName returns the constant name for an enum value of this field.
func (f *Field) EnumName(value uint32) (string, bool) {
	n, ok := f.names[value]
	return n, ok
}

// Parameter is one entry of a message's ordered field list.
type Parameter struct {
	Field    *Field
	Required bool
}

// MessageSpec describes one message: its name, wire ID and ordered parameters.
type MessageSpec struct {
	Name       string
	ID         uint32
	Parameters []Parameter
	index      map[string]int
}

// Parameter returns the parameter definition for a field name.
func (m *MessageSpec) Parameter(field string) (Parameter, bool) {
	i, ok := m.index[field]
	if !ok {
		return Parameter{}, false
	}
	return m.Parameters[i], true
}

// Reply is an allowed reply in a transaction.
type Reply struct {
	Message  string
	Count    string
	Required bool
}

// Transaction lists the replies a request message may receive.
type Transaction struct {
	Message    string
	Originator string
	Replies    []Reply
}

// ErrorSpec is a protocol error code declared as an enum of an error field.
type ErrorSpec struct {
	Name string
	Code uint32
}

// Catalog is an immutable, loaded specification. It is safe for concurrent use.
type Catalog struct {
	name     string
	version  string
	document []byte

	fieldsByName   map[string]*Field
	fieldsByID     map[uint32]*Field
	messagesByName map[string]*MessageSpec
	messagesByID   map[uint32]*MessageSpec
	errorsByCode   map[uint32]*ErrorSpec
	errorsByName   map[string]*ErrorSpec
	collections    map[string][]string
	transactions   map[string]*Transaction
}

type xmlProtocol struct {
	XMLName      xml.Name         `xml:"protocol"`
	Name         string           `xml:"name,attr"`
	Version      string           `xml:"version,attr"`
	Types        []xmlType        `xml:"types>type"`
	Fields       []xmlField       `xml:"fields>field"`
	Collections  []xmlCollection  `xml:"collections>collection"`
	Messages     []xmlMessage     `xml:"messages>message"`
	Transactions []xmlTransaction `xml:"transactions>transaction"`
}

type xmlType struct {
	Name string `xml:"name,attr"`
	ID   uint32 `xml:"id,attr"`
	Size int    `xml:"size,attr"`
}

type xmlField struct {
	Name  string    `xml:"name,attr"`
	Type  string    `xml:"type,attr"`
	ID    uint32    `xml:"id,attr"`
	Enums []xmlEnum `xml:"enum"`
}

type xmlEnum struct {
	Name  string `xml:"name,attr"`
	Value uint32 `xml:"value,attr"`
}

type xmlCollection struct {
	Name    string `xml:"name,attr"`
	Members []struct {
		Field string `xml:"field,attr"`
	} `xml:"member"`
}

type xmlMessage struct {
	Name       string         `xml:"name,attr"`
	ID         uint32         `xml:"id,attr"`
	Parameters []xmlParameter `xml:"parameter"`
}

type xmlParameter struct {
	Field string `xml:"field,attr"`
	Use   string `xml:"use,attr"`
}

type xmlTransaction struct {
	Message    string     `xml:"message,attr"`
	Originator string     `xml:"originator,attr"`
	Replies    []xmlReply `xml:"reply"`
	Or         []xmlReply `xml:"or>reply"`
}

type xmlReply struct {
	Message string `xml:"message,attr"`
	Count   string `xml:"count,attr"`
	Use     string `xml:"use,attr"`
}

// Default returns a catalog for the embedded Wired 2.0 specification.
func Default() (*Catalog, error) {
	return LoadBytes(wiredDocument)
}

// Load reads a specification document. The built-in P7 definitions are
// always merged in.
func Load(r io.Reader) (*Catalog, error) {
	doc, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read specification: %w", err)
	}
	return LoadBytes(doc)
}

// LoadFile reads a specification document from disk.
func LoadFile(path string) (*Catalog, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read specification %s: %w", path, err)
	}
	return LoadBytes(doc)
}

// LoadURL fetches a specification document over HTTP(S).
func LoadURL(ctx context.Context, url string) (*Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid specification URL: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch specification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch specification: %s", resp.Status)
	}

	doc, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read specification: %w", err)
	}
	return LoadBytes(doc)
}

// LoadSource loads from a URL when source starts with http:// or https://,
// from the embedded document when source is empty, and from disk otherwise.
func LoadSource(ctx context.Context, source string) (*Catalog, error) {
	switch {
	case source == "":
		return Default()
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return LoadURL(ctx, source)
	default:
		return LoadFile(source)
	}
}

// LoadBytes parses a specification document held in memory.
func LoadBytes(doc []byte) (*Catalog, error) {
	app, err := parseDocument(doc)
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		name:           app.Name,
		version:        app.Version,
		document:       bytes.Clone(doc),
		fieldsByName:   make(map[string]*Field),
		fieldsByID:     make(map[uint32]*Field),
		messagesByName: make(map[string]*MessageSpec),
		messagesByID:   make(map[uint32]*MessageSpec),
		errorsByCode:   make(map[uint32]*ErrorSpec),
		errorsByName:   make(map[string]*ErrorSpec),
		collections:    make(map[string][]string),
		transactions:   make(map[string]*Transaction),
	}

	docs := []*xmlProtocol{app}
	if app.Name != "P7" {
		builtin, err := parseDocument(p7Document)
		if err != nil {
			return nil, err
		}
		docs = []*xmlProtocol{builtin, app}
	}

	for _, d := range docs {
		if err := c.addTypes(d); err != nil {
			return nil, err
		}
		if err := c.addFields(d); err != nil {
			return nil, err
		}
	}
	for _, d := range docs {
		if err := c.addMessages(d); err != nil {
			return nil, err
		}
		if err := c.addCollections(d); err != nil {
			return nil, err
		}
		c.addTransactions(d)
	}

	return c, nil
}

func parseDocument(doc []byte) (*xmlProtocol, error) {
	var p xmlProtocol
	if err := xml.Unmarshal(doc, &p); err != nil {
		return nil, malformed("%v", err)
	}
	if p.Name == "" || p.Version == "" {
		return nil, malformed("protocol element requires name and version")
	}
	return &p, nil
}

func (c *Catalog) addTypes(d *xmlProtocol) error {
	for _, t := range d.Types {
		ft, ok := ParseFieldType(t.Name)
		if !ok {
			return malformed("unsupported type %q", t.Name)
		}
		if uint32(ft) != t.ID {
			return malformed("type %q declared with id %d, expected %d", t.Name, t.ID, ft)
		}
		if t.Size != 0 && t.Size != ft.Size() {
			return malformed("type %q declared with size %d, expected %d", t.Name, t.Size, ft.Size())
		}
	}
	return nil
}

func (c *Catalog) addFields(d *xmlProtocol) error {
	for _, xf := range d.Fields {
		if xf.Name == "" {
			return malformed("field without name")
		}
		ft, ok := ParseFieldType(xf.Type)
		if !ok {
			return malformed("field %q has unknown type %q", xf.Name, xf.Type)
		}
		if _, dup := c.fieldsByName[xf.Name]; dup {
			return malformed("duplicate field %q", xf.Name)
		}
		if other, dup := c.fieldsByID[xf.ID]; dup {
			return malformed("field %q reuses id %d of %q", xf.Name, xf.ID, other.Name)
		}

		f := &Field{
			Name:  xf.Name,
			ID:    xf.ID,
			Type:  ft,
			enums: make(map[string]uint32, len(xf.Enums)),
			names: make(map[uint32]string, len(xf.Enums)),
		}
		for _, e := range xf.Enums {
			f.enums[e.Name] = e.Value
			f.names[e.Value] = e.Name
		}
		c.fieldsByName[f.Name] = f
		c.fieldsByID[f.ID] = f

		// Enum constants of an error field double as the protocol's error codes.
		if ft == TypeEnum && strings.HasSuffix(f.Name, ".error") {
			for _, e := range xf.Enums {
				es := &ErrorSpec{Name: e.Name, Code: e.Value}
				c.errorsByCode[e.Value] = es
				c.errorsByName[e.Name] = es
			}
		}
	}
	return nil
}

func (c *Catalog) addMessages(d *xmlProtocol) error {
	for _, xm := range d.Messages {
		if xm.Name == "" {
			return malformed("message without name")
		}
		if _, dup := c.messagesByName[xm.Name]; dup {
			return malformed("duplicate message %q", xm.Name)
		}
		if other, dup := c.messagesByID[xm.ID]; dup {
			return malformed("message %q reuses id %d of %q", xm.Name, xm.ID, other.Name)
		}

		m := &MessageSpec{
			Name:       xm.Name,
			ID:         xm.ID,
			Parameters: make([]Parameter, 0, len(xm.Parameters)),
			index:      make(map[string]int, len(xm.Parameters)),
		}
		for _, xp := range xm.Parameters {
			f, ok := c.fieldsByName[xp.Field]
			if !ok {
				return malformed("message %q references undefined field %q", xm.Name, xp.Field)
			}
			if _, dup := m.index[f.Name]; dup {
				return malformed("message %q lists field %q twice", xm.Name, f.Name)
			}
			m.index[f.Name] = len(m.Parameters)
			m.Parameters = append(m.Parameters, Parameter{Field: f, Required: xp.Use == "required"})
		}
		c.messagesByName[m.Name] = m
		c.messagesByID[m.ID] = m
	}
	return nil
}

func (c *Catalog) addCollections(d *xmlProtocol) error {
	for _, xc := range d.Collections {
		members := make([]string, 0, len(xc.Members))
		for _, member := range xc.Members {
			if _, ok := c.fieldsByName[member.Field]; !ok {
				return malformed("collection %q references undefined field %q", xc.Name, member.Field)
			}
			members = append(members, member.Field)
		}
		c.collections[xc.Name] = members
	}
	return nil
}

func (c *Catalog) addTransactions(d *xmlProtocol) {
	for _, xt := range d.Transactions {
		t := &Transaction{Message: xt.Message, Originator: xt.Originator}
		for _, r := range append(xt.Replies, xt.Or...) {
			t.Replies = append(t.Replies, Reply{Message: r.Message, Count: r.Count, Required: r.Use == "required"})
		}
		c.transactions[t.Message] = t
	}
}

// Name returns the application protocol name, e.g. "Wired".
func (c *Catalog) Name() string { return c.name }

// Version returns the application protocol version.
func (c *Catalog) Version() string { return c.version }

// Document returns a copy of the raw application specification document.
func (c *Catalog) Document() []byte { return bytes.Clone(c.document) }

// Lookup returns the message definition for a name.
func (c *Catalog) Lookup(name string) (*MessageSpec, bool) {
	m, ok := c.messagesByName[name]
	return m, ok
}

// LookupID returns the message definition for a wire ID.
func (c *Catalog) LookupID(id uint32) (*MessageSpec, bool) {
	m, ok := c.messagesByID[id]
	return m, ok
}

// Field returns the field definition for a name.
func (c *Catalog) Field(name string) (*Field, bool) {
	f, ok := c.fieldsByName[name]
	return f, ok
}

// FieldByID returns the field definition for a wire ID.
func (c *Catalog) FieldByID(id uint32) (*Field, bool) {
	f, ok := c.fieldsByID[id]
	return f, ok
}

// ErrorByCode returns the protocol error declared with code.
func (c *Catalog) ErrorByCode(code uint32) (*ErrorSpec, bool) {
	e, ok := c.errorsByCode[code]
	return e, ok
}

// ErrorByName returns the protocol error declared with name.
func (c *Catalog) ErrorByName(name string) (*ErrorSpec, bool) {
	e, ok := c.errorsByName[name]
	return e, ok
}

// Collection returns the member fields of a named collection.
func (c *Catalog) Collection(name string) []string {
	return append([]string(nil), c.collections[name]...)
}

// Privileges returns the account privilege field names.
func (c *Catalog) Privileges() []string {
	return c.Collection(PrivilegesCollection)
}

// Transaction returns the reply table for a request message.
func (c *Catalog) Transaction(message string) (*Transaction, bool) {
	t, ok := c.transactions[message]
	return t, ok
}

// Messages returns all message names in ascending wire ID order.
func (c *Catalog) Messages() []string {
	specs := make([]*MessageSpec, 0, len(c.messagesByName))
	for _, m := range c.messagesByName {
		specs = append(specs, m)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })

	names := make([]string, len(specs))
	for i, m := range specs {
		names[i] = m.Name
	}
	return names
}

// Compatible reports whether a peer announcing protocol name and version
// speaks exactly this catalog's protocol.
func (c *Catalog) Compatible(name, version string) bool {
	return c.name == name && c.version == version
}

// CompatibleWith reports whether other can interoperate with c: same
// protocol name, and every message and field both define agrees on wire ID
// and type.
func (c *Catalog) CompatibleWith(other *Catalog) bool {
	if other == nil || c.name != other.name {
		return false
	}
	for name, m := range c.messagesByName {
		if om, ok := other.messagesByName[name]; ok && om.ID != m.ID {
			return false
		}
	}
	for name, f := range c.fieldsByName {
		if of, ok := other.fieldsByName[name]; ok && (of.ID != f.ID || of.Type != f.Type) {
			return false
		}
	}
	return true
}
