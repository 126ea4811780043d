package domain

import (
	"fmt"
	"strings"
	"unicode"
)

// DefaultPage is recorded when document ingestion could not locate the page
// a clause was extracted from.
const DefaultPage = "not specified"

// Clause is a single obligation or prohibition extracted from a regulatory
// or contractual document. Clauses are immutable once extracted.
type Clause struct {
	// Title names the clause within its source document (e.g. "Article 5").
	Title string `json:"title" yaml:"title" validate:"required,max=512"`

	// Description holds the clause text verbatim, in its original language.
	Description string `json:"description" yaml:"description" validate:"required"`

	// Source identifies the document the clause was extracted from.
	Source string `json:"source,omitempty" yaml:"source"`

	// Page is the page reference inside Source, or DefaultPage.
	Page string `json:"page,omitempty" yaml:"page"`
}

// PageOrDefault returns the clause page reference, falling back to
// DefaultPage when ingestion left it blank.
func (c Clause) PageOrDefault() string {
	if strings.TrimSpace(c.Page) == "" {
		return DefaultPage
	}
	return c.Page
}

// Validate reports ErrBlankClause when the clause has no description to
// compile.
func (c Clause) Validate() error {
	if isBlank(c.Description) {
		return fmt.Errorf("clause %q: %w", c.Title, ErrBlankClause)
	}
	return nil
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

// ControlInstruction is the structured, machine-actionable rendition of a
// clause. It carries a descriptive restatement and an ordered list of
// measurable audit steps, all in the language of the originating clause.
type ControlInstruction struct {
	// DescriptionControl restates the clause as descriptive prose.
	DescriptionControl string `json:"description_control" validate:"required"`

	// AuditInstructions lists the ordered audit steps. Never empty.
	AuditInstructions []string `json:"audit_instructions" validate:"required,min=1,dive,required"`
}

// Language identifies the natural language of audit content.
type Language string

// Supported audit languages.
const (
	LanguageEnglish Language = "en"
	LanguageArabic  Language = "ar"
)

// DetectLanguage classifies text as Arabic when Arabic letters make up the
// majority of its letters, and English otherwise.
func DetectLanguage(text string) Language {
	var arabic, letters int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Arabic, r) {
			arabic++
		}
	}
	if letters > 0 && arabic*2 > letters {
		return LanguageArabic
	}
	return LanguageEnglish
}

// Language reports the language the instruction is written in.
func (ci ControlInstruction) Language() Language {
	return DetectLanguage(ci.DescriptionControl + " " + strings.Join(ci.AuditInstructions, " "))
}
