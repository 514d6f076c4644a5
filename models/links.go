package models

// EntryCategory verknüpft einen Eintrag mit einer Kategorie.
type EntryCategory struct {
	Bibkey string `json:"bibkey" gorm:"column:bibkey;primaryKey"`
	IDCat  int    `json:"id_cat" gorm:"column:id_cat;primaryKey;autoIncrement:false;index"`
}

func (EntryCategory) TableName() string { return "entry_categories" }

// EntryExperiment verknüpft einen Eintrag mit einem Experiment.
type EntryExperiment struct {
	Bibkey string `json:"bibkey" gorm:"column:bibkey;primaryKey"`
	IDExp  int    `json:"id_exp" gorm:"column:id_exp;primaryKey;autoIncrement:false;index"`
}

func (EntryExperiment) TableName() string { return "entry_experiments" }

// CategoryExperiment verknüpft eine Kategorie mit einem Experiment.
type CategoryExperiment struct {
	IDCat int `json:"id_cat" gorm:"column:id_cat;primaryKey;autoIncrement:false"`
	IDExp int `json:"id_exp" gorm:"column:id_exp;primaryKey;autoIncrement:false;index"`
}

func (CategoryExperiment) TableName() string { return "category_experiments" }

// All liefert alle Modelle für die Auto-Migration.
func All() []any {
	return []any{
		&Entry{}, &Category{}, &Experiment{},
		&EntryCategory{}, &EntryExperiment{}, &CategoryExperiment{},
	}
}
