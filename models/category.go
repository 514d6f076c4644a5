package models

// Reservierte Kategorien, sie existieren immer und werden nie gelöscht.
const (
	CategoryMain = 0
	CategoryTags = 1
)

// Category ist ein Knoten im Kategorienbaum.
type Category struct {
	IDCat       int    `json:"id_cat" gorm:"column:id_cat;primaryKey;autoIncrement"`
	Name        string `json:"name" gorm:"column:name;not null;index"`
	Description string `json:"description" gorm:"column:description"`
	ParentCat   int    `json:"parent_cat" gorm:"column:parent_cat;not null;default:0;index"`
	Comments    string `json:"comments" gorm:"column:comments"`
	Ord         int    `json:"ord" gorm:"column:ord;not null;default:0"`
}

func (Category) TableName() string {
	return "categories"
}

// CategoryColumns sind die über UpdateField änderbaren Spalten.
var CategoryColumns = []string{"name", "description", "parent_cat", "comments", "ord"}

// IsReservedCategory meldet, ob id eine der Wurzelkategorien ist.
func IsReservedCategory(id int) bool {
	return id == CategoryMain || id == CategoryTags
}

// Experiment ist eine flache, benannte Gruppe von Einträgen.
type Experiment struct {
	IDExp    int    `json:"id_exp" gorm:"column:id_exp;primaryKey;autoIncrement"`
	Name     string `json:"name" gorm:"column:name;not null;index"`
	Comments string `json:"comments" gorm:"column:comments"`
	Homepage string `json:"homepage" gorm:"column:homepage"`
	Inspire  string `json:"inspire" gorm:"column:inspire"`
}

func (Experiment) TableName() string {
	return "experiments"
}

// ExperimentColumns sind die über UpdateField änderbaren Spalten.
var ExperimentColumns = []string{"name", "comments", "homepage", "inspire"}

// ContainsColumn meldet, ob col in cols enthalten ist.
func ContainsColumn(cols []string, col string) bool {
	for _, c := range cols {
		if c == col {
			return true
		}
	}
	return false
}
