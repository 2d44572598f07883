package cmd

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/dmscan/internal/pipeline"
	"github.com/MeKo-Tech/dmscan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scanPayload = "SERIAL-0042"

// writeCodeImage stores a Data Matrix PNG in dir and returns its path.
func writeCodeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := testutil.EncodePNG(t, testutil.DataMatrixImage(t, scanPayload))
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func hasPayload(res *pipeline.Result, data string) bool {
	for _, d := range res.DetectedCodes {
		if d.Data == data {
			return true
		}
	}
	return false
}

func TestScanCommand_JSON(t *testing.T) {
	dir := isolate(t)
	img := writeCodeImage(t, dir, "label.png")

	out, _, err := execute(t, "scan", img)
	require.NoError(t, err)

	var res pipeline.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, len(res.DetectedCodes), res.Count)
	assert.True(t, hasPayload(&res, scanPayload), "payload not found in %s", out)
	assert.Empty(t, res.ImageURL)
}

func TestScanCommand_NoCodes(t *testing.T) {
	isolate(t)
	img := testutil.WriteTempFile(t, "blank.jpg",
		testutil.EncodeJPEG(t, testutil.CreateTestImageWithText("no codes here", 200, 80)))

	out, _, err := execute(t, "scan", img)
	require.NoError(t, err)
	assert.Contains(t, out, `"detected_codes": []`)
	assert.Contains(t, out, `"count": 0`)
}

func TestScanCommand_Text(t *testing.T) {
	dir := isolate(t)
	img := writeCodeImage(t, dir, "label.png")

	out, _, err := execute(t, "scan", "--format", "text", img)
	require.NoError(t, err)
	assert.Contains(t, out, scanPayload)
	assert.NotContains(t, out, "==")
}

func TestScanCommand_CSV(t *testing.T) {
	dir := isolate(t)
	img := writeCodeImage(t, dir, "label.png")

	out, _, err := execute(t, "scan", "-f", "csv", img)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 2)
	assert.Equal(t, []string{"source", "method", "type", "x", "y", "width", "height", "data"}, rows[0])
	assert.Equal(t, img, rows[1][0])

	found := false
	for _, row := range rows[1:] {
		found = found || row[7] == scanPayload
	}
	assert.True(t, found)
}

func TestScanCommand_OutputFile(t *testing.T) {
	dir := isolate(t)
	img := writeCodeImage(t, dir, "label.png")
	outFile := filepath.Join(dir, "result.json")

	out, _, err := execute(t, "scan", "-o", outFile, img)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), scanPayload)
}

func TestScanCommand_AnnotateDir(t *testing.T) {
	dir := isolate(t)
	img := writeCodeImage(t, dir, "label.png")
	annDir := filepath.Join(dir, "annotated")

	out, _, err := execute(t, "scan", "--annotate-dir", annDir, img)
	require.NoError(t, err)

	var res pipeline.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotEmpty(t, res.ImageURL)
	assert.Equal(t, annDir, filepath.Dir(res.ImageURL))
	assert.FileExists(t, res.ImageURL)
}

func TestScanCommand_PartialFailure(t *testing.T) {
	dir := isolate(t)
	img := writeCodeImage(t, dir, "label.png")
	missing := filepath.Join(dir, "missing.png")

	out, stderr, err := execute(t, "scan", img, missing)
	require.Error(t, err)
	assert.Equal(t, "1 of 2 inputs failed", err.Error())
	assert.Contains(t, stderr, "Scan failed")

	var reports []scanReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 2)
	assert.Equal(t, img, reports[0].Source)
	assert.Empty(t, reports[0].Error)
	assert.Equal(t, missing, reports[1].Source)
	assert.NotEmpty(t, reports[1].Error)
}

func TestScanCommand_Errors(t *testing.T) {
	dir := isolate(t)
	img := writeCodeImage(t, dir, "label.png")
	notImage := filepath.Join(dir, "notes.png")
	require.NoError(t, os.WriteFile(notImage, []byte("plain text"), 0o600))

	_, _, err := execute(t, "scan")
	require.Error(t, err)

	_, _, err = execute(t, "scan", "--format", "xml", img)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")

	_, _, err = execute(t, "scan", "--backends", "tesseract", img)
	require.Error(t, err)

	_, _, err = execute(t, "scan", notImage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 inputs failed")
}

func TestScanCommand_Directory(t *testing.T) {
	dir := isolate(t)
	imgDir := filepath.Join(dir, "images")
	require.NoError(t, os.Mkdir(imgDir, 0o750))
	writeCodeImage(t, imgDir, "a.png")
	writeCodeImage(t, imgDir, "b.png")

	out, _, err := execute(t, "scan", "--format", "text", imgDir)
	require.NoError(t, err)
	assert.Contains(t, out, "== "+filepath.Join(imgDir, "a.png")+" ==")
	assert.Contains(t, out, "== "+filepath.Join(imgDir, "b.png")+" ==")
	assert.GreaterOrEqual(t, strings.Count(out, scanPayload), 2)
}

func TestScanCommand_RecursiveWithPatterns(t *testing.T) {
	dir := isolate(t)
	root := filepath.Join(dir, "photos")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "2024"), 0o750))
	writeCodeImage(t, root, "label_top.png")
	writeCodeImage(t, filepath.Join(root, "2024"), "label_deep.png")
	writeCodeImage(t, filepath.Join(root, "2024"), "skip_me.png")

	out, _, err := execute(t, "scan", "-f", "csv", "-r", "--include", "label_*", "--workers", "2", root)
	require.NoError(t, err)
	assert.Contains(t, out, "label_top.png")
	assert.Contains(t, out, "label_deep.png")
	assert.NotContains(t, out, "skip_me.png")

	_, _, err = execute(t, "scan", "--exclude", "*.png", root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input images")
}

func TestWriteReports(t *testing.T) {
	res := pipeline.Assemble([]pipeline.Detection{{
		Type:     "DATAMATRIX",
		Data:     "a,b",
		Method:   "dmtx",
		Position: pipeline.Position{X: 1, Y: 2, Width: 3, Height: 4},
	}})
	reports := []scanReport{
		{Source: "one.png", Result: res},
		{Source: "two.png", Error: "boom"},
	}

	var buf bytes.Buffer
	require.NoError(t, writeReports(&buf, formatText, reports))
	assert.Equal(t, "== one.png ==\na,b\n\n== two.png ==\nerror: boom\n", buf.String())

	buf.Reset()
	require.NoError(t, writeReports(&buf, formatCSV, reports))
	assert.Equal(t, "source,method,type,x,y,width,height,data\none.png,dmtx,DATAMATRIX,1,2,3,4,\"a,b\"\n", buf.String())

	buf.Reset()
	require.NoError(t, writeReports(&buf, formatJSON, reports[:1]))
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
}
