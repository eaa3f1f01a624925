package mapping

import (
	"fmt"
	"os"

	"github.com/go-openapi/inflect"
	"gopkg.in/yaml.v3"
)

// NamingStrategy derives schema element names from entity metadata.
// All methods must be pure: the same input always yields the same name.
type NamingStrategy interface {
	// Schema returns the schema qualifier, or "" for the default schema.
	Schema() string
	// TableName returns the table name for the given entity type name.
	TableName(typeName string) string
	// ColumnName returns the column name for the given property of the
	// given entity type.
	ColumnName(typeName, propertyName string) string
	// ReverseColumnName returns the back-reference column in a child table
	// pointing to the id of the owner entity type.
	ReverseColumnName(ownerTypeName string) string
	// KeyColumnName returns the column holding the map key or slice index
	// for a multi-valued property of the owner entity type.
	KeyColumnName(ownerTypeName string) string
}

var rules = ruleset()

func ruleset() *inflect.Ruleset {
	r := inflect.NewDefaultRuleset()
	for _, acronym := range []string{
		"ACL", "API", "ASCII", "CPU", "CSS", "DNS", "EOF", "GUID", "HTML",
		"HTTP", "HTTPS", "ID", "IP", "JSON", "LHS", "QPS", "RAM", "RHS",
		"RPC", "SLA", "SMTP", "SQL", "SSH", "TCP", "TLS", "TTL", "UDP",
		"UI", "UID", "UUID", "URI", "URL", "UTF8", "VM", "XML", "XSRF", "XSS",
	} {
		r.AddAcronym(acronym)
	}
	return r
}

// defaultNaming is the NamingStrategy used unless overridden: snake_case
// pluralized table names, snake_case columns, "<owner>_id" back-references
// and "<owner>_key" key columns.
type defaultNaming struct{}

// DefaultNamingStrategy returns the built-in naming strategy.
func DefaultNamingStrategy() NamingStrategy { return defaultNaming{} }

func (defaultNaming) Schema() string { return "" }

func (defaultNaming) TableName(typeName string) string {
	return rules.Underscore(rules.Pluralize(typeName))
}

func (defaultNaming) ColumnName(_, propertyName string) string {
	return rules.Underscore(propertyName)
}

func (defaultNaming) ReverseColumnName(ownerTypeName string) string {
	return rules.ForeignKey(rules.Singularize(ownerTypeName))
}

func (defaultNaming) KeyColumnName(ownerTypeName string) string {
	return rules.Underscore(rules.Singularize(ownerTypeName)) + "_key"
}

// Overrides holds explicit name overrides applied on top of another
// NamingStrategy. The zero value overrides nothing.
type Overrides struct {
	// SchemaName overrides the schema qualifier.
	SchemaName string `yaml:"schema"`
	// Tables maps entity type names to table names.
	Tables map[string]string `yaml:"tables"`
	// Columns maps property names (qualified as "Type.Property") to column names.
	Columns map[string]string `yaml:"columns"`
}

// overriddenNaming decorates a NamingStrategy with explicit overrides.
type overriddenNaming struct {
	NamingStrategy
	o Overrides
}

// NamingWithOverrides wraps base so that names present in o take precedence.
func NamingWithOverrides(base NamingStrategy, o Overrides) NamingStrategy {
	return overriddenNaming{NamingStrategy: base, o: o}
}

// LoadOverrides reads an Overrides document from a YAML file.
func LoadOverrides(path string) (Overrides, error) {
	var o Overrides
	buf, err := os.ReadFile(path)
	if err != nil {
		return o, fmt.Errorf("mapping: read naming overrides: %w", err)
	}
	if err := yaml.Unmarshal(buf, &o); err != nil {
		return o, fmt.Errorf("mapping: parse naming overrides: %w", err)
	}
	return o, nil
}

func (n overriddenNaming) Schema() string {
	if n.o.SchemaName != "" {
		return n.o.SchemaName
	}
	return n.NamingStrategy.Schema()
}

func (n overriddenNaming) TableName(typeName string) string {
	if t, ok := n.o.Tables[typeName]; ok {
		return t
	}
	return n.NamingStrategy.TableName(typeName)
}

func (n overriddenNaming) ColumnName(typeName, propertyName string) string {
	if c, ok := n.o.Columns[typeName+"."+propertyName]; ok {
		return c
	}
	return n.NamingStrategy.ColumnName(typeName, propertyName)
}
