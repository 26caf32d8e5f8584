package common

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"
)

const timeFormat = "2006-01-02 15:04:05.000000 -0700"

func formatTimeIfPossible(v interface{}) (string, bool) {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(timeFormat), true
	}
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC().Format(timeFormat), true
		}
		return s, true
	}
	return "", false
}

func deepEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if aStr, aOk := formatTimeIfPossible(a); aOk {
		if bStr, bOk := formatTimeIfPossible(b); bOk {
			return aStr == bStr
		}
	}

	strA := fmt.Sprintf("%v", a)
	strB := fmt.Sprintf("%v", b)

	if strA == strB {
		return true
	}

	if reflect.TypeOf(a).Kind() != reflect.TypeOf(b).Kind() {
		return false
	}

	va := reflect.ValueOf(a)
	vb := reflect.ValueOf(b)

	switch va.Kind() {
	case reflect.Array, reflect.Slice:
		if va.Len() != vb.Len() {
			return false
		}
		for i := 0; i < va.Len(); i++ {
			if !deepEqual(va.Index(i).Interface(), vb.Index(i).Interface()) {
				return false
			}
		}
		return true
	}

	return strA == strB
}

func rowKey(keyFields []string, row map[string]interface{}) (string, error) {
	parts := make([]string, len(keyFields))
	for i, f := range keyFields {
		v, ok := row[f]
		if !ok {
			return "", fmt.Errorf("key field %s not found", f)
		}
		if s, ok := formatTimeIfPossible(v); ok {
			parts[i] = s
		} else {
			parts[i] = fmt.Sprintf("%v", v)
		}
	}
	return strings.Join(parts, "|"), nil
}

// CheckResults matches result rows to expected rows by the key fields and
// compares every column. Columns absent from an expected row must be null.
func CheckResults(keyFields []string, results []map[string]interface{}, expectedResults []map[string]interface{}) (bool, error) {
	if len(results) != len(expectedResults) {
		return false, fmt.Errorf("results length(%d) not equal to expected results length(%d)", len(results), len(expectedResults))
	}
	expectedResultsIdxMap := make(map[string]int)
	for i, expectedResult := range expectedResults {
		key, err := rowKey(keyFields, expectedResult)
		if err != nil {
			return false, fmt.Errorf("expected row %d: %w", i, err)
		}
		if existing, ok := expectedResultsIdxMap[key]; ok {
			return false, fmt.Errorf("duplicate key detected: %s at index %d and %d", key, existing, i)
		}
		expectedResultsIdxMap[key] = i
	}

	for i, result := range results {
		key, err := rowKey(keyFields, result)
		if err != nil {
			return false, fmt.Errorf("result row %d: %w", i, err)
		}
		expectedResultIdx, ok := expectedResultsIdxMap[key]
		if !ok {
			return false, fmt.Errorf("key %s not found in expected results", key)
		}
		expectedResult := expectedResults[expectedResultIdx]
		for field, value := range result {
			expectedVal := expectedResult[field]
			if !deepEqual(value, expectedVal) {
				return false, fmt.Errorf("feature field %v: result value:%v not equal to expected value:%v (key %s, line %d)", field, value, expectedVal, key, i)
			}
		}
		for field := range expectedResult {
			if _, ok := result[field]; !ok {
				return false, fmt.Errorf("feature field %v missing from result (key %s, line %d)", field, key, i)
			}
		}
	}

	return true, nil
}

// CheckResultsWithFile reads the expected rows from a csv file with a header
// line. \N marks a null.
func CheckResultsWithFile(keyFields []string, results []map[string]interface{}, filePath string) (bool, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return false, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()

	if err != nil {
		return false, fmt.Errorf("failed to read CSV file: %w", err)
	}
	if len(records) < 2 {
		return false, errors.New("CSV file does not contain any data")
	}

	headers := records[0]
	var expectedResults []map[string]interface{}

	for _, record := range records[1:] {
		result := make(map[string]interface{})
		for i, value := range record {
			if value == `\N` {
				result[headers[i]] = nil
				continue
			}
			result[headers[i]] = value
		}
		expectedResults = append(expectedResults, result)
	}

	return CheckResults(keyFields, results, expectedResults)
}
