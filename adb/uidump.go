package adb

import (
	"encoding/xml"
	"io"
	"regexp"
	"strconv"
	"strings"

	"mobilecontrol/models"
)

var boundsRe = regexp.MustCompile(`\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]`)

// ParseUIDump flattens a uiautomator hierarchy into the elements a user can
// address: nodes with text, a content description or a resource id, and a
// non-empty on-screen rectangle.
func ParseUIDump(data []byte) ([]models.Element, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(data)))
	elements := []models.Element{}

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return elements, nil
		}
		if err != nil {
			return nil, err
		}

		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local == "hierarchy" {
			continue
		}

		attrs := make(map[string]string, len(start.Attr))
		for _, a := range start.Attr {
			attrs[a.Name.Local] = a.Value
		}

		el := models.Element{
			Type:       attrs["class"],
			Text:       attrs["text"],
			Label:      attrs["content-desc"],
			Identifier: attrs["resource-id"],
			Rect:       parseBounds(attrs["bounds"]),
			Focused:    attrs["focused"] == "true",
		}
		if el.Type == "" {
			el.Type = start.Name.Local
		}
		if el.Text == "" && el.Label == "" && el.Identifier == "" {
			continue
		}
		if el.Rect.Width <= 0 || el.Rect.Height <= 0 {
			continue
		}
		elements = append(elements, el)
	}
}

func parseBounds(s string) models.Rect {
	m := boundsRe.FindStringSubmatch(s)
	if m == nil {
		return models.Rect{}
	}
	n := make([]int, 4)
	for i := range n {
		n[i], _ = strconv.Atoi(m[i+1])
	}
	return models.Rect{X: n[0], Y: n[1], Width: n[2] - n[0], Height: n[3] - n[1]}
}
