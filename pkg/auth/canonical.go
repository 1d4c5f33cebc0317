package auth

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"swarmstore/pkg/models"
)

// Canonical builds the signed string for an authenticated method: the
// common form is METHOD || ACCOUNT_HEX || TS || arg1 || arg2 || ...,
// one canonicalizer per method name, table-driven as named in the wire
// interfaces section.
type Canonical struct{}

func accountHex(a models.Account) string {
	return hex.EncodeToString(a[:])
}

// Store builds the canonical string for the "store" method.
func (Canonical) Store(account models.Account, ts int64, ns models.Namespace, expiryMs int64) string {
	return "STORE" + accountHex(account) + strconv.FormatInt(ts, 10) +
		strconv.Itoa(int(ns)) + strconv.FormatInt(expiryMs, 10)
}

// Retrieve builds the canonical string for the "retrieve" method.
func (Canonical) Retrieve(account models.Account, ts int64, ns models.Namespace) string {
	return "RETRIEVE" + accountHex(account) + strconv.FormatInt(ts, 10) +
		strconv.Itoa(int(ns))
}

// Delete builds the canonical string for the "delete" method: hashes are
// hex-encoded and joined in the order supplied by the caller (the caller
// is expected to have already sorted them if determinism across retries
// matters to it).
func (Canonical) Delete(account models.Account, ts int64, hashes []models.Hash) string {
	var b strings.Builder
	b.WriteString("DELETE")
	b.WriteString(accountHex(account))
	b.WriteString(strconv.FormatInt(ts, 10))
	for _, h := range hashes {
		b.WriteString(hex.EncodeToString(h[:]))
	}
	return b.String()
}

// DeleteAll builds the canonical string for the "delete_all" method.
func (Canonical) DeleteAll(account models.Account, ts int64, namespaces []models.Namespace, before int64) string {
	var b strings.Builder
	b.WriteString("DELETE_ALL")
	b.WriteString(accountHex(account))
	b.WriteString(strconv.FormatInt(ts, 10))
	for _, ns := range namespaces {
		b.WriteString(strconv.Itoa(int(ns)))
	}
	b.WriteString(strconv.FormatInt(before, 10))
	return b.String()
}

// Expire builds the canonical string for the "expire" method.
func (Canonical) Expire(account models.Account, ts int64, extensions map[models.Hash]int64) string {
	hashes := make([]models.Hash, 0, len(extensions))
	for h := range extensions {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return string(hashes[i][:]) < string(hashes[j][:])
	})
	var b strings.Builder
	b.WriteString("EXPIRE")
	b.WriteString(accountHex(account))
	b.WriteString(strconv.FormatInt(ts, 10))
	for _, h := range hashes {
		b.WriteString(hex.EncodeToString(h[:]))
		b.WriteString(strconv.FormatInt(extensions[h], 10))
	}
	return b.String()
}

// Monitor builds the canonical string for the "monitor" method, matching
// the worked example: MONITOR || ACCOUNT_HEX || TS || want_data || ns...
func (Canonical) Monitor(account models.Account, ts int64, wantData bool, namespaces []models.Namespace) string {
	flag := "0"
	if wantData {
		flag = "1"
	}
	parts := make([]string, len(namespaces))
	for i, ns := range namespaces {
		parts[i] = strconv.Itoa(int(ns))
	}
	return fmt.Sprintf("MONITOR%s%d%s%s", accountHex(account), ts, flag, strings.Join(parts, ","))
}
