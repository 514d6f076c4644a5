// Package query übersetzt strukturierte Filterkriterien in eine
// parametrisierte SQL-Abfrage über die Tabelle entries.
package query

import (
	"fmt"
	"sort"
	"strings"

	"physbib/models"
)

const (
	Exact    = "exact"
	Contains = "contains"

	And = "and"
	Or  = "or"

	Asc  = "ASC"
	Desc = "DESC"

	DefaultOrderBy = "firstdate"

	// UnboundedLimit wird gesetzt, wenn ein Offset ohne Limit verlangt wird.
	UnboundedLimit = 100000
)

// FieldFilter ist ein einfacher Vergleich auf einer Spalte.
type FieldFilter struct {
	Value     string `json:"value"`
	Match     string `json:"match,omitempty"`
	Connector string `json:"connector,omitempty"`
}

// IDSet filtert nach Kategorie- oder Experiment-IDs.
type IDSet struct {
	IDs      []int  `json:"ids"`
	Operator string `json:"operator,omitempty"`
}

// Spec ist die vollständige Filterbeschreibung. Schlüssel in Fields dürfen ein
// Suffix "#n" tragen, damit dieselbe Spalte mehrfach gefiltert werden kann.
type Spec struct {
	Fields           map[string]FieldFilter `json:"fields,omitempty"`
	Categories       *IDSet                 `json:"categories,omitempty"`
	Experiments      *IDSet                 `json:"experiments,omitempty"`
	CatExpOperator   string                 `json:"cat_exp_operator,omitempty"`
	DefaultConnector string                 `json:"default_connector,omitempty"`
	OrderBy          string                 `json:"order_by,omitempty"`
	OrderDir         string                 `json:"order_dir,omitempty"`
	Limit            int                    `json:"limit,omitempty"`
	Offset           int                    `json:"offset,omitempty"`
}

// Compiled ist die fertige Abfrage samt gebundenen Werten.
type Compiled struct {
	SQL     string
	Args    []any
	Skipped []string
}

type idJoin struct {
	table  string
	column string
}

var (
	categoryJoin   = idJoin{table: "entry_categories", column: "id_cat"}
	experimentJoin = idJoin{table: "entry_experiments", column: "id_exp"}
)

// Build übersetzt spec. Ungültige Operatoren werden durch die sicheren
// Standardwerte ersetzt (and, exact, ASC, firstdate), unbekannte Spalten
// werden ausgelassen und in Skipped gemeldet.
func Build(spec Spec) Compiled {
	var (
		joins  []string
		wheres []string
		args   []any
	)

	catJoin, catWhere, catArgs := categoryJoin.compile(spec.Categories)
	expJoin, expWhere, expArgs := experimentJoin.compile(spec.Experiments)
	joins = append(joins, catJoin...)
	joins = append(joins, expJoin...)
	args = append(args, catArgs...)
	args = append(args, expArgs...)
	if catWhere != "" {
		wheres = append(wheres, catWhere)
	}
	if expWhere != "" {
		wheres = append(wheres, expWhere)
	}

	var sb strings.Builder
	if len(joins) > 0 {
		sb.WriteString("SELECT DISTINCT entries.* FROM entries")
		for _, j := range joins {
			sb.WriteString(" ")
			sb.WriteString(j)
		}
	} else {
		sb.WriteString("SELECT entries.* FROM entries")
	}

	where := ""
	if len(wheres) > 0 {
		op := " " + strings.ToUpper(normalizeConnector(spec.CatExpOperator)) + " "
		where = "(" + strings.Join(wheres, op) + ")"
	}

	var skipped []string
	defaultConn := normalizeConnector(spec.DefaultConnector)
	for _, key := range sortedKeys(spec.Fields) {
		f := spec.Fields[key]
		col := strings.SplitN(key, "#", 2)[0]
		if !models.IsEntryColumn(col) {
			skipped = append(skipped, key)
			continue
		}
		cond, arg := fieldCondition(col, f)
		if where == "" {
			where = cond
		} else {
			conn := defaultConn
			if f.Connector != "" {
				conn = normalizeConnector(f.Connector)
			}
			where += " " + strings.ToUpper(conn) + " " + cond
		}
		args = append(args, arg)
	}
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	orderBy := spec.OrderBy
	if !models.IsEntryColumn(orderBy) {
		orderBy = DefaultOrderBy
	}
	sb.WriteString(fmt.Sprintf(" ORDER BY entries.%s %s", orderBy, normalizeDirection(spec.OrderDir)))

	limit := spec.Limit
	if limit <= 0 && spec.Offset > 0 {
		limit = UnboundedLimit
	}
	if limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	if spec.Offset > 0 {
		sb.WriteString(" OFFSET ?")
		args = append(args, spec.Offset)
	}

	return Compiled{SQL: sb.String(), Args: args, Skipped: skipped}
}

// compile erzeugt die JOINs und die WHERE-Bedingung für ein IDSet.
// Bei "and" bekommt jede ID einen eigenen Alias, bei "or" reicht ein JOIN.
func (j idJoin) compile(set *IDSet) ([]string, string, []any) {
	if set == nil || len(set.IDs) == 0 {
		return nil, "", nil
	}
	var (
		joins []string
		conds []string
		args  []any
	)
	if normalizeConnector(set.Operator) == Or || len(set.IDs) == 1 {
		alias := j.table + "_0"
		joins = append(joins, fmt.Sprintf("LEFT JOIN %s AS %s ON entries.bibkey = %s.bibkey", j.table, alias, alias))
		for _, id := range set.IDs {
			conds = append(conds, fmt.Sprintf("%s.%s = ?", alias, j.column))
			args = append(args, id)
		}
		return joins, "(" + strings.Join(conds, " OR ") + ")", args
	}
	for i, id := range set.IDs {
		alias := fmt.Sprintf("%s_%d", j.table, i)
		joins = append(joins, fmt.Sprintf("LEFT JOIN %s AS %s ON entries.bibkey = %s.bibkey", j.table, alias, alias))
		conds = append(conds, fmt.Sprintf("%s.%s = ?", alias, j.column))
		args = append(args, id)
	}
	return joins, "(" + strings.Join(conds, " AND ") + ")", args
}

func fieldCondition(col string, f FieldFilter) (string, any) {
	if normalizeMatch(f.Match) == Contains {
		return fmt.Sprintf("entries.%s LIKE ?", col), "%" + f.Value + "%"
	}
	return fmt.Sprintf("entries.%s = ?", col), f.Value
}

func normalizeConnector(c string) string {
	if strings.EqualFold(strings.TrimSpace(c), Or) {
		return Or
	}
	return And
}

func normalizeMatch(m string) string {
	switch strings.ToLower(strings.TrimSpace(m)) {
	case Contains, "like":
		return Contains
	}
	return Exact
}

func normalizeDirection(d string) string {
	if strings.EqualFold(strings.TrimSpace(d), Desc) {
		return Desc
	}
	return Asc
}

func sortedKeys(m map[string]FieldFilter) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
