package bank

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/terra-clan/screening-engine/internal/models"
)

// ParseTSV reads tab-delimited question rows of the form
// "<ordinal>. <text>\t<option>\t<option>...". Every row must carry exactly
// fields columns; any bad row rejects the whole file.
func ParseTSV(r io.Reader, fields int, header bool) ([]models.Question, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = fields
	reader.LazyQuotes = true

	var questions []models.Question
	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		if header && line == 1 {
			continue
		}

		q, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		questions = append(questions, q)
	}

	if len(questions) == 0 {
		return nil, fmt.Errorf("no question rows")
	}
	return questions, nil
}

func parseRow(row []string) (models.Question, error) {
	ordinal, text, err := splitOrdinal(row[0])
	if err != nil {
		return models.Question{}, err
	}

	options := make([]string, 0, len(row)-1)
	for i, opt := range row[1:] {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			return models.Question{}, fmt.Errorf("option %d is empty", i+1)
		}
		options = append(options, opt)
	}

	return models.Question{
		Ordinal: ordinal,
		Text:    text,
		Options: options,
	}, nil
}

// splitOrdinal separates the leading question number from the question text
func splitOrdinal(field string) (int, string, error) {
	field = strings.TrimSpace(field)
	end := strings.IndexFunc(field, func(r rune) bool { return !unicode.IsDigit(r) })
	if end == -1 {
		end = len(field)
	}
	if end == 0 {
		return 0, "", fmt.Errorf("question %q has no ordinal", field)
	}

	ordinal, err := strconv.Atoi(field[:end])
	if err != nil {
		return 0, "", fmt.Errorf("invalid ordinal in %q: %w", field, err)
	}

	text := strings.TrimLeft(field[end:], " .):-")
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, "", fmt.Errorf("question %d has no text", ordinal)
	}
	return ordinal, text, nil
}
