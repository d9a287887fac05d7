package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineErrorIs(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("ingest: %w", NewPipelineError(KindDownload, "2401.00001", cause))

	assert.True(t, errors.Is(err, ErrDownload))
	assert.False(t, errors.Is(err, ErrParse))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "download error for paper 2401.00001")

	var pe *PipelineError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, KindDownload, pe.Kind)
}

func TestParseSectionType(t *testing.T) {
	assert.Equal(t, SectionMethods, ParseSectionType(" Methods "))
	assert.Equal(t, SectionRelatedWork, ParseSectionType("related_work"))
	assert.Equal(t, SectionOther, ParseSectionType("appendix"))
}

func TestChunkPrefix(t *testing.T) {
	c := Chunk{Text: "héllo world"}
	assert.Equal(t, "hél", c.Prefix(3))
	assert.Equal(t, "héllo world", c.Prefix(100))
}

func TestFigureValidate(t *testing.T) {
	f := Figure{FigureID: "1", PaperID: "p", Data: "ABC"}
	assert.NoError(t, f.Validate())

	f.PaperID = ""
	assert.ErrorIs(t, f.Validate(), ErrEmptyPaperID)
}
