package archive

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

type MoveEval struct {
	Ply        int32  `parquet:"name=ply, type=INT32"`
	Move       string `parquet:"name=move, type=BYTE_ARRAY, convertedtype=UTF8"`
	ScoreType  string `parquet:"name=score_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	ScoreValue int32  `parquet:"name=score_value, type=INT32"`
}

// GameRecord is one archived game. Moves holds the USI moves separated by
// spaces; scores in MoveEvals are from the first player's point of view.
type GameRecord struct {
	GameID     string     `parquet:"name=game_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	SenteName  string     `parquet:"name=sente_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	GoteName   string     `parquet:"name=gote_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Seed       int64      `parquet:"name=seed, type=INT64"`
	StartSFEN  string     `parquet:"name=start_sfen, type=BYTE_ARRAY, convertedtype=UTF8"`
	Moves      string     `parquet:"name=moves, type=BYTE_ARRAY, convertedtype=UTF8"`
	Result     string     `parquet:"name=result, type=BYTE_ARRAY, convertedtype=UTF8"`
	WinReason  string     `parquet:"name=win_reason, type=BYTE_ARRAY, convertedtype=UTF8"`
	MoveCount  int32      `parquet:"name=move_count, type=INT32"`
	DurationMS int64      `parquet:"name=duration_ms, type=INT64"`
	MoveEvals  []MoveEval `parquet:"name=move_evals, type=LIST"`
}

// MoveList splits Moves back into USI tokens.
func (r GameRecord) MoveList() []string {
	return strings.Fields(r.Moves)
}

type Schema struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

type Field struct {
	Name     string `json:"name"`
	Type     any    `json:"type"`
	Nullable bool   `json:"nullable"`
}

//go:embed schema.json
var schemaJSON []byte

// LoadSchema decodes the published column layout.
func LoadSchema() (Schema, error) {
	var schema Schema
	if err := json.Unmarshal(schemaJSON, &schema); err != nil {
		return Schema{}, fmt.Errorf("archive schema: %w", err)
	}
	return schema, nil
}

// Write streams records into a snappy-compressed parquet file at path.
func Write(path string, records <-chan GameRecord, parallel int64) error {
	schema, err := LoadSchema()
	if err != nil {
		return err
	}
	if err := ValidateSchema(schema, GameRecord{}); err != nil {
		return err
	}

	fileWriter, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	defer fileWriter.Close()

	parquetWriter, err := writer.NewParquetWriter(fileWriter, new(GameRecord), parallel)
	if err != nil {
		return err
	}
	parquetWriter.CompressionType = parquet.CompressionCodec_SNAPPY

	for record := range records {
		if err := parquetWriter.Write(record); err != nil {
			return err
		}
	}
	if err := parquetWriter.WriteStop(); err != nil {
		return err
	}
	return fileWriter.Close()
}

// Read loads every record from path in batches.
func Read(path string, parallel int64) ([]GameRecord, error) {
	absPath := path
	if !filepath.IsAbs(path) {
		if resolved, err := filepath.Abs(path); err == nil {
			absPath = resolved
		}
	}
	fileReader, err := local.NewLocalFileReader(absPath)
	if err != nil {
		return nil, err
	}
	defer fileReader.Close()

	parquetReader, err := reader.NewParquetReader(fileReader, new(GameRecord), parallel)
	if err != nil {
		return nil, err
	}
	defer parquetReader.ReadStop()

	num := int(parquetReader.GetNumRows())
	records := make([]GameRecord, 0, num)
	batchSize := 1024
	for offset := 0; offset < num; offset += batchSize {
		if remain := num - offset; remain < batchSize {
			batchSize = remain
		}
		batch := make([]GameRecord, batchSize)
		if err := parquetReader.Read(&batch); err != nil {
			return nil, err
		}
		records = append(records, batch...)
	}
	return records, nil
}

// ValidateSchema checks that the parquet tags of sample name exactly the
// schema's top-level fields.
func ValidateSchema(schema Schema, sample any) error {
	schemaFields := make(map[string]struct{}, len(schema.Fields))
	for _, field := range schema.Fields {
		schemaFields[field.Name] = struct{}{}
	}
	structFields := structParquetFieldNames(sample)
	missing := diffKeys(schemaFields, structFields)
	extra := diffKeys(structFields, schemaFields)
	if len(missing) > 0 || len(extra) > 0 {
		return fmt.Errorf("parquet schema mismatch: missing=%v extra=%v", missing, extra)
	}
	return nil
}

func structParquetFieldNames(sample any) map[string]struct{} {
	fields := map[string]struct{}{}
	v := reflect.TypeOf(sample)
	for i := 0; i < v.NumField(); i++ {
		if name := parseParquetName(v.Field(i).Tag.Get("parquet")); name != "" {
			fields[name] = struct{}{}
		}
	}
	return fields
}

func parseParquetName(tag string) string {
	for _, part := range strings.Split(tag, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 && kv[0] == "name" {
			return kv[1]
		}
	}
	return ""
}

func diffKeys(a, b map[string]struct{}) []string {
	var diff []string
	for key := range a {
		if _, ok := b[key]; !ok {
			diff = append(diff, key)
		}
	}
	sort.Strings(diff)
	return diff
}
