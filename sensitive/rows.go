package sensitive

import (
	"context"
	"reflect"

	"golang.org/x/sync/errgroup"

	"github.com/HandsomeChen0407/cjdb/entity"
	"github.com/HandsomeChen0407/cjdb/errors"
	"github.com/HandsomeChen0407/cjdb/utils"
)

// decryptParallelism caps the goroutines a single result set fans out to.
const decryptParallelism = 8

// DecryptRows decrypts the sensitive columns of a result set in place, one
// goroutine per row up to decryptParallelism. Unmarked values are left
// alone; a marked value that will not decrypt fails the whole batch.
func DecryptRows(ctx context.Context, cipher *CJFieldCipher, tableName string, rows []utils.JSON) error {
	if cipher == nil || len(rows) == 0 {
		return nil
	}
	columns := entity.Manager.SensitiveColumns(tableName)
	if len(columns) == 0 {
		return nil
	}
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(decryptParallelism)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			return decryptRow(cipher, columns, row)
		})
	}
	return g.Wait()
}

func decryptRow(cipher *CJFieldCipher, columns []*entity.CJFieldDef, row utils.JSON) error {
	for _, column := range columns {
		v, ok := row[column.ColumnName]
		if !ok || v == nil {
			continue
		}
		value := utils.GetString(row, column.ColumnName)
		if !IsEncrypted(value) {
			continue
		}
		plain, err := cipher.Decrypt(value)
		if err != nil {
			return errors.Wrapf(err, "SENSITIVE_ROW_DECRYPT_FAILED:%s", column.ColumnName)
		}
		row[column.ColumnName] = plain
	}
	return nil
}

// DecryptEntities decrypts the sensitive string fields of a slice of
// structs or struct pointers in place, in parallel. The element type does
// not have to be a registered table.
func DecryptEntities(ctx context.Context, cipher *CJFieldCipher, entities any) error {
	if cipher == nil || entities == nil {
		return nil
	}
	v := reflect.ValueOf(entities)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Slice {
		return errors.Errorf("DECRYPT_ENTITIES_EXPECTS_A_SLICE:%T", entities)
	}
	if v.Len() == 0 {
		return nil
	}
	fields := entity.Manager.SensitiveFieldsOfType(v.Type().Elem())
	if len(fields) == 0 {
		return nil
	}
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(decryptParallelism)
	for i := 0; i < v.Len(); i++ {
		element := v.Index(i)
		if element.Kind() != reflect.Ptr {
			element = element.Addr()
		}
		target := element.Interface()
		g.Go(func() error {
			return decryptEntity(cipher, fields, target)
		})
	}
	return g.Wait()
}

func decryptEntity(cipher *CJFieldCipher, fields []*entity.CJFieldDef, target any) error {
	for _, f := range fields {
		raw, err := f.Value(target)
		if err != nil {
			return err
		}
		value, ok := raw.(string)
		if !ok || !IsEncrypted(value) {
			continue
		}
		plain, err := cipher.Decrypt(value)
		if err != nil {
			return errors.Wrapf(err, "SENSITIVE_ENTITY_DECRYPT_FAILED:%s", f.ColumnName)
		}
		err = f.SetValue(target, plain)
		if err != nil {
			return err
		}
	}
	return nil
}

// EncryptColumns encrypts the sensitive columns present in a write payload
// in place. Values already carrying the marker stay as they are.
func EncryptColumns(cipher *CJFieldCipher, columns []*entity.CJFieldDef, data utils.JSON) error {
	if cipher == nil {
		return nil
	}
	for _, column := range columns {
		v, ok := data[column.ColumnName]
		if !ok || v == nil {
			continue
		}
		value, ok := v.(string)
		if !ok || value == "" {
			continue
		}
		enc, err := cipher.Encrypt(value)
		if err != nil {
			return errors.Wrapf(err, "SENSITIVE_COLUMN_ENCRYPT_FAILED:%s", column.ColumnName)
		}
		data[column.ColumnName] = enc
	}
	return nil
}
