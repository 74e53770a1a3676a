package utils

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type JSON = map[string]any

func NowAsString() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func TypeAsString(v any) string {
	return fmt.Sprintf("%T", v)
}

func GetValueFromNestedMap(data map[string]interface{}, key string) (interface{}, error) {
	keys := strings.Split(key, ".")
	var value interface{}

	value = data
	for _, k := range keys {
		valueMap, ok := value.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("key %s does not exist", k)
		}
		value, ok = valueMap[k]
		if !ok {
			return nil, fmt.Errorf("key %s does not exist", k)
		}
	}
	return value, nil
}

func SetValueInNestedMap(data map[string]interface{}, key string, value interface{}) {
	keys := strings.Split(key, ".")
	lastKeyIndex := len(keys) - 1

	for i, k := range keys {
		if i == lastKeyIndex {
			data[k] = value
		} else {
			nextMap, ok := data[k].(map[string]interface{})
			if !ok {
				nextMap = make(map[string]interface{})
				data[k] = nextMap
			}
			data = nextMap
		}
	}
}

func IfStringInSlice(str string, list []string) bool {
	for _, v := range list {
		if v == str {
			return true
		}
	}
	return false
}

// GetString returns kv[key] as a string. Nil and missing values become "".
func GetString(kv JSON, key string) string {
	v, ok := kv[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(v)
	}
}

// GetInt64 returns kv[key] as an int64, converting the numeric and string
// representations database drivers produce. Missing or unconvertible values
// return 0.
func GetInt64(kv JSON, key string) int64 {
	v, ok := kv[key]
	if !ok || v == nil {
		return 0
	}
	r, err := ConvertToInt64(v)
	if err != nil {
		return 0
	}
	return r
}

func GetBool(kv JSON, key string) bool {
	v, ok := kv[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false
		}
		return b
	default:
		return false
	}
}

func ConvertToInt64(v any) (r int64, err error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseInt(t, 10, 64)
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case []byte:
		return strconv.ParseInt(string(t), 10, 64)
	case float32:
		f := float64(t)
		if (math.Ceil(f) - f) != 0 {
			return 0, errors.New(`TheFloatNumberIsNotInteger`)
		}
		return int64(f), nil
	case float64:
		if (math.Ceil(t) - t) != 0 {
			return 0, errors.New(`TheFloatNumberIsNotInteger`)
		}
		return int64(t), nil
	default:
		return 0, errors.New(`TypeIsNotConvertableToInt64:` + fmt.Sprint(v))
	}
}

func ConvertToString(v any) (r string, err error) {
	switch t := v.(type) {
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return fmt.Sprintf(`%f`, t), nil
	case string:
		return t, nil
	case map[string]any:
		vs, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(vs), nil
	case []uint8:
		return string(t), nil
	case time.Time:
		return t.Format(time.RFC3339), nil
	case bool:
		if t {
			return "TRUE", nil
		}
		return "FALSE", nil
	default:
		return "", errors.New(`TypeIsNotConvertableToString` + fmt.Sprint(v))
	}
}

func JSONToMapStringString(kv JSON) (r map[string]string, err error) {
	r = map[string]string{}
	for k, v := range kv {
		switch v.(type) {
		case string:
			r[k] = v.(string)
		default:
			err = fmt.Errorf("error convert JSON to Map[string]string")
			return nil, err
		}
	}
	return r, nil
}

func MustFormatInt64(v int64) string {
	return strconv.FormatInt(v, 10)
}

// RandomToken returns a 32-character hex token from crypto/rand.
func RandomToken() string {
	b := make([]byte, 16)
	_, err := rand.Read(b)
	if err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// ShallowCopy returns a new map with the same keys and values.
func ShallowCopy(kv JSON) JSON {
	r := make(JSON, len(kv))
	for k, v := range kv {
		r[k] = v
	}
	return r
}
