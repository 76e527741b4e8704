package loader

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/model"
)

// capacity column headers accepted in the known-capacities workbook, in
// normalized form.
var (
	idHeaders       = []string{"id", "einrichtung id", "einrichtungsnummer"}
	capacityHeaders = []string{"capacity", "plaetze", "platze", "genehmigte plaetze"}
)

// LoadKnownCapacities reads the first sheet of an XLSX workbook whose header
// row names a facility id column and a capacity column. Rows with a blank id
// or an unparseable capacity are skipped with a warning.
func LoadKnownCapacities(path string) (map[string]float64, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: open capacities %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("loader: capacities %s has no sheets", path)
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("loader: capacities %s is empty", path)
	}

	idIdx, capIdx := -1, -1
	for j, cell := range sheet.Rows[0].Cells {
		header := NormalizeName(cell.String())
		if idIdx < 0 && contains(idHeaders, header) {
			idIdx = j
		}
		if capIdx < 0 && contains(capacityHeaders, header) {
			capIdx = j
		}
	}
	if idIdx < 0 || capIdx < 0 {
		return nil, eris.Errorf("loader: capacities %s missing id or capacity column", path)
	}

	out := make(map[string]float64)
	var skipped int
	for i, row := range sheet.Rows[1:] {
		id := cellString(row, idIdx)
		raw := cellString(row, capIdx)
		if id == "" || raw == "" {
			skipped++
			continue
		}
		// German workbooks use a decimal comma.
		v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
		if err != nil || v <= 0 {
			skipped++
			zap.L().Warn("capacity row skipped",
				zap.Int("row", i+2), zap.String("id", id), zap.String("value", raw))
			continue
		}
		out[id] = v
	}

	zap.L().Info("known capacities loaded",
		zap.String("path", path),
		zap.Int("count", len(out)),
		zap.Int("skipped", skipped),
	)
	return out, nil
}

// ApplyKnownCapacities fills facilities that lack a capacity from the lookup
// table, keyed by facility id. Returns the number of facilities filled.
func ApplyKnownCapacities(facilities []model.Facility, known map[string]float64) int {
	var filled int
	for i := range facilities {
		if facilities[i].Capacity != nil {
			continue
		}
		if v, ok := known[facilities[i].ID]; ok {
			value := v
			facilities[i].Capacity = &value
			filled++
		}
	}
	return filled
}

func cellString(row *xlsx.Row, idx int) string {
	if idx >= len(row.Cells) {
		return ""
	}
	return strings.TrimSpace(row.Cells[idx].String())
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}
