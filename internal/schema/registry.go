package schema

// ColumnType tags how a raw spreadsheet cell must be coerced before it may be
// written to the destination column.
type ColumnType string

const (
	TypeString     ColumnType = "string"
	TypeNumber     ColumnType = "number"
	TypeBoolean    ColumnType = "boolean"
	TypeDate       ColumnType = "date"
	TypeIdentifier ColumnType = "identifier"
)

// ColumnDefinition describes one destination column. Derived columns are owned
// by the database (triggers/computed) and are stripped from every write payload.
type ColumnDefinition struct {
	Name     string
	Type     ColumnType
	Required bool
	Derived  bool
	Aliases  []string
}

// TableSchema is the immutable shape of one destination table.
type TableSchema struct {
	Table   string
	Columns []ColumnDefinition
}

// Column looks up a definition by canonical field name.
func (t TableSchema) Column(name string) (ColumnDefinition, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDefinition{}, false
}

// DerivedFields lists the columns the destination computes itself.
func (t TableSchema) DerivedFields() []string {
	var out []string
	for _, c := range t.Columns {
		if c.Derived {
			out = append(out, c.Name)
		}
	}
	return out
}

// registry is the closed catalogue of destination table shapes. Built once at
// init, never mutated at runtime. Aliases cover the header spellings seen in
// real user spreadsheets (Portuguese and English).
var registry = map[string]TableSchema{
	"transacoes": {
		Table: "transacoes",
		Columns: []ColumnDefinition{
			{Name: "id", Type: TypeIdentifier, Aliases: []string{"codigo", "uuid"}},
			{Name: "data", Type: TypeDate, Required: true, Aliases: []string{"date", "dia"}},
			{Name: "tipo", Type: TypeString, Required: true, Aliases: []string{"type", "operacao", "movimento"}},
			{Name: "valor", Type: TypeNumber, Required: true, Aliases: []string{"value", "amount", "montante"}},
			{Name: "descricao", Type: TypeString, Aliases: []string{"description", "obs", "observacao"}},
			{Name: "banco", Type: TypeString, Aliases: []string{"bank", "casa", "conta"}},
			{Name: "saldo_acumulado", Type: TypeNumber, Derived: true, Aliases: []string{"saldo", "balance"}},
		},
	},
	"contas": {
		Table: "contas",
		Columns: []ColumnDefinition{
			{Name: "id", Type: TypeIdentifier, Aliases: []string{"codigo", "uuid"}},
			{Name: "nome", Type: TypeString, Required: true, Aliases: []string{"name", "banco", "bank", "casa"}},
			{Name: "tipo", Type: TypeString, Aliases: []string{"type", "categoria"}},
			{Name: "saldo_inicial", Type: TypeNumber, Aliases: []string{"initial_balance", "saldo_abertura"}},
			{Name: "saldo_atual", Type: TypeNumber, Derived: true, Aliases: []string{"saldo", "current_balance"}},
			{Name: "ativo", Type: TypeBoolean, Aliases: []string{"ativa", "active", "habilitado"}},
		},
	},
	"metas": {
		Table: "metas",
		Columns: []ColumnDefinition{
			{Name: "id", Type: TypeIdentifier, Aliases: []string{"codigo", "uuid"}},
			{Name: "nome", Type: TypeString, Required: true, Aliases: []string{"name", "meta", "objetivo"}},
			{Name: "valor_alvo", Type: TypeNumber, Required: true, Aliases: []string{"alvo", "target", "objetivo_valor"}},
			{Name: "valor_atual", Type: TypeNumber, Aliases: []string{"atual", "current"}},
			{Name: "prazo", Type: TypeDate, Aliases: []string{"deadline", "data_limite", "limite"}},
			{Name: "progresso", Type: TypeNumber, Derived: true, Aliases: []string{"progress", "percentual"}},
		},
	},
}

// SchemaOf returns the schema for a destination table. Unknown tables return
// ok=false; callers fall back to an identity mapping.
func SchemaOf(table string) (TableSchema, bool) {
	s, ok := registry[table]
	return s, ok
}

// Tables lists the registered destination table names.
func Tables() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}
