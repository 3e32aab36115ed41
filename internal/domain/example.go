package domain

// ItemText is the text bundle kept with a training example.
type ItemText struct {
	Title     string `json:"title"`
	Type      string `json:"type"`
	Performer string `json:"performer"`
	Notes     string `json:"notes"`
	Index     int    `json:"index"`
}

func NewItemText(p ProgramItem) ItemText {
	return ItemText{Title: p.Title, Type: p.Type, Performer: p.Performer, Notes: p.Notes, Index: p.Index}
}

func (t ItemText) ProgramItem() ProgramItem {
	return ProgramItem{Title: t.Title, Type: t.Type, Performer: t.Performer, Notes: t.Notes, Index: t.Index}
}

func (t ItemText) Text() string {
	return t.ProgramItem().Text()
}

// TrainingExample is one user-confirmed item. Examples are append-only.
type TrainingExample struct {
	ID         string           `json:"id"`
	Item       ItemText         `json:"programItem"`
	UserValues map[Field]string `json:"userValues"`
	Context    Context          `json:"context"`
}
