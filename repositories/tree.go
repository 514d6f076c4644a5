package repositories

import "physbib/models"

// CategoryNode ist ein Knoten im Kategorienbaum.
type CategoryNode struct {
	models.Category
	Children []*CategoryNode `json:"children"`
}

// categoryTree ist die einzige Stelle, die über parent_cat läuft. Zyklen
// werden beim Anlegen nicht verhindert; beim Durchlaufen sorgt die Menge der
// besuchten IDs dafür, dass jeder Knoten höchstens einmal erscheint.
type categoryTree struct {
	byID     map[int]models.Category
	children map[int][]int
}

func newCategoryTree(cats []models.Category) *categoryTree {
	t := &categoryTree{byID: map[int]models.Category{}, children: map[int][]int{}}
	for _, c := range cats {
		t.byID[c.IDCat] = c
		// die Wurzel ist ihr eigener Parent und nie ein Kind
		if c.IDCat == models.CategoryMain {
			continue
		}
		t.children[c.ParentCat] = append(t.children[c.ParentCat], c.IDCat)
	}
	return t
}

// build liefert den Teilbaum unter root.
func (t *categoryTree) build(root int) *CategoryNode {
	visited := map[int]bool{}
	var walk func(id int) *CategoryNode
	walk = func(id int) *CategoryNode {
		visited[id] = true
		n := &CategoryNode{Category: t.byID[id], Children: []*CategoryNode{}}
		for _, child := range t.children[id] {
			if visited[child] {
				continue
			}
			n.Children = append(n.Children, walk(child))
		}
		return n
	}
	return walk(root)
}

// descendants liefert alle Nachfahren von root, Kinder vor ihren Eltern.
// root selbst ist nicht enthalten.
func (t *categoryTree) descendants(root int) []int {
	visited := map[int]bool{root: true}
	var out []int
	var walk func(id int)
	walk = func(id int) {
		for _, child := range t.children[id] {
			if visited[child] {
				continue
			}
			visited[child] = true
			walk(child)
			out = append(out, child)
		}
	}
	walk(root)
	return out
}
