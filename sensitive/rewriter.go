package sensitive

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/HandsomeChen0407/cjdb/entity"
	"github.com/HandsomeChen0407/cjdb/log"
	"github.com/HandsomeChen0407/cjdb/utils"
)

// CJPredicateRewriter rewrites equality predicates on sensitive columns in
// SELECT statements. A predicate `t.phone = :p` becomes
// `(t.phone = :p_raw OR t.phone = :p_enc)` with both the plaintext and the
// ciphertext bound, so the query matches rows written before and after the
// column was encrypted. Rewriting is best effort: anything that cannot be
// handled leaves the statement untouched.
type CJPredicateRewriter struct {
	Cipher *CJFieldCipher

	// Tables and Columns default to the entity registry; tests override
	// them.
	Tables  func() []string
	Columns func(tableName string) []*entity.CJFieldDef

	mutex    sync.Mutex
	patterns map[string]*regexp.Regexp
}

func NewPredicateRewriter(cipher *CJFieldCipher) *CJPredicateRewriter {
	return &CJPredicateRewriter{
		Cipher:   cipher,
		Tables:   entity.Manager.SensitiveTables,
		Columns:  entity.Manager.SensitiveColumns,
		patterns: map[string]*regexp.Regexp{},
	}
}

// columnPattern matches `col = :param` with an optional table qualifier.
// Word boundaries keep `phone` from matching inside `telephone_ext`.
func (r *CJPredicateRewriter) columnPattern(column string) *regexp.Regexp {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	re, ok := r.patterns[column]
	if !ok {
		expr := `(?i)(?:\b([A-Za-z_][A-Za-z0-9_]*)\.)?\b` + regexp.QuoteMeta(column) + `\b\s*=\s*:([A-Za-z_][A-Za-z0-9_]*)`
		re = regexp.MustCompile(expr)
		r.patterns[column] = re
	}
	return re
}

// RewriteSelect rewrites statement in place against params and reports
// whether anything changed. params gains a _raw and an _enc binding for
// every rewritten predicate. Calling it on an already rewritten statement
// is a no-op.
func (r *CJPredicateRewriter) RewriteSelect(statement string, params utils.JSON) (string, bool) {
	if r.Cipher == nil || params == nil {
		return statement, false
	}
	trimmed := strings.TrimSpace(statement)
	if len(trimmed) < 6 || !strings.EqualFold(trimmed[:6], "SELECT") {
		return statement, false
	}

	out := statement
	lower := strings.ToLower(statement)
	changed := false
	for _, tableName := range r.Tables() {
		if !strings.Contains(lower, tableName) {
			continue
		}
		for _, column := range r.Columns(tableName) {
			re := r.columnPattern(column.ColumnName)
			for _, match := range re.FindAllStringSubmatch(out, -1) {
				full, alias, param := match[0], match[1], match[2]
				if r.alreadyRewritten(param, params) {
					continue
				}
				value := utils.GetString(params, param)
				if value == "" {
					continue
				}
				plain, enc, ok := r.bothForms(value)
				if !ok {
					continue
				}
				qualifier := ""
				if alias != "" {
					qualifier = alias + "."
				}
				rawParam := param + "_raw"
				encParam := param + "_enc"
				replacement := fmt.Sprintf("(%s%s = :%s OR %s%s = :%s)",
					qualifier, column.ColumnName, rawParam,
					qualifier, column.ColumnName, encParam)
				if strings.Contains(out, replacement) {
					continue
				}
				out = strings.Replace(out, full, replacement, 1)
				params[rawParam] = plain
				params[encParam] = enc
				changed = true
			}
		}
	}
	return out, changed
}

// alreadyRewritten recognizes a parameter this rewriter produced, or one
// whose rewritten bindings are already present.
func (r *CJPredicateRewriter) alreadyRewritten(param string, params utils.JSON) bool {
	if _, ok := params[param+"_enc"]; ok {
		return true
	}
	for _, suffix := range []string{"_raw", "_enc"} {
		if base, found := strings.CutSuffix(param, suffix); found {
			if _, ok := params[base]; ok {
				return true
			}
		}
	}
	return false
}

// bothForms returns the plaintext and the marked ciphertext of value,
// whichever form the caller passed in.
func (r *CJPredicateRewriter) bothForms(value string) (plain string, enc string, ok bool) {
	if IsEncrypted(value) {
		p, err := r.Cipher.Decrypt(value)
		if err != nil {
			log.Log.Debugf("Predicate value with marker failed to decrypt, leaving predicate as is: %v", err)
			return "", "", false
		}
		return p, value, true
	}
	e, err := r.Cipher.Encrypt(value)
	if err != nil {
		log.Log.Debugf("Predicate value failed to encrypt, leaving predicate as is: %v", err)
		return "", "", false
	}
	return value, e, true
}
