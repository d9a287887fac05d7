// Package convert produces heading-marked text from downloaded papers.
package convert
