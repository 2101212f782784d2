package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// tabElement adapts a rod element to the resolver's Element surface.
type tabElement struct {
	el *rod.Element
}

func (t *tabElement) ID() string {
	return string(t.el.Object.ObjectID)
}

func (t *tabElement) Tag() (string, error) {
	node, err := t.el.Describe(0, false)
	if err != nil {
		return "", err
	}
	return strings.ToLower(node.NodeName), nil
}

func (t *tabElement) Visible() (bool, error) {
	return t.el.Visible()
}

func (t *tabElement) Text() (string, error) {
	return t.el.Text()
}

func (t *tabElement) Attribute(name string) (string, error) {
	v, err := t.el.Attribute(name)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

func (t *tabElement) Value() (string, error) {
	v, err := t.el.Property("value")
	if err != nil {
		return "", err
	}
	return v.Str(), nil
}

// Input replaces the element's current content with text. Selecting first
// makes rod's Input overwrite instead of append.
func (t *tabElement) Input(text string) error {
	_ = t.el.SelectAllText()
	return t.el.Input(text)
}

func (t *tabElement) Click() error {
	return t.el.Click(proto.InputMouseButtonLeft, 1)
}

func (t *tabElement) SelectOption(text string) error {
	return t.el.Select([]string{text}, true, rod.SelectorTypeText)
}

func (t *tabElement) PressEnter() error {
	return t.el.Type(input.Enter)
}
