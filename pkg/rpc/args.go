package rpc

import (
	"fmt"

	"swarmstore/pkg/bt"
	"swarmstore/pkg/models"
)

// Args is the uniform key->value mapping C4 dispatches against, produced
// by decoding either a JSON body or a bencoded dict through pkg/bt.
type Args map[string]bt.Value

func argBytes(a Args, key string) ([]byte, bool) {
	v, ok := a[key]
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

func argInt64(a Args, key string) (int64, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	n, ok := v.(int64)
	return n, ok
}

func argBool(a Args, key string) (bool, bool) {
	n, ok := argInt64(a, key)
	if !ok {
		return false, false
	}
	return n != 0, true
}

func argList(a Args, key string) ([]bt.Value, bool) {
	v, ok := a[key]
	if !ok {
		return nil, false
	}
	l, ok := v.([]bt.Value)
	return l, ok
}

func argAccount(a Args, key string) (models.Account, *Error) {
	b, ok := argBytes(a, key)
	if !ok {
		return models.Account{}, NewError(BadRequest, "missing field "+key)
	}
	if len(b) != models.AccountSize {
		return models.Account{}, NewError(InvalidPubkey, "wrong account length")
	}
	var acct models.Account
	copy(acct[:], b)
	return acct, nil
}

func argNamespace(a Args, key string) (models.Namespace, *Error) {
	n, ok := argInt64(a, key)
	if !ok {
		return 0, NewError(BadRequest, "missing field "+key)
	}
	if n < -32768 || n > 32767 {
		return 0, NewError(InvalidNamespace, "namespace out of range")
	}
	return models.Namespace(n), nil
}

func argNamespaceList(a Args, key string) ([]models.Namespace, *Error) {
	l, ok := argList(a, key)
	if !ok {
		return nil, NewError(BadRequest, "missing field "+key)
	}
	out := make([]models.Namespace, 0, len(l))
	for _, v := range l {
		n, ok := v.(int64)
		if !ok || n < -32768 || n > 32767 {
			return nil, NewError(InvalidNamespace, "namespace out of range")
		}
		out = append(out, models.Namespace(n))
	}
	return out, nil
}

func argHashList(a Args, key string) ([]models.Hash, *Error) {
	l, ok := argList(a, key)
	if !ok {
		return nil, NewError(BadRequest, "missing field "+key)
	}
	out := make([]models.Hash, 0, len(l))
	for _, v := range l {
		b, ok := v.([]byte)
		if !ok || len(b) != models.HashSize {
			return nil, NewError(BadRequest, "malformed hash in list")
		}
		var h models.Hash
		copy(h[:], b)
		out = append(out, h)
	}
	return out, nil
}

func argHash(a Args, key string) (models.Hash, bool, *Error) {
	b, ok := argBytes(a, key)
	if !ok {
		return models.Hash{}, false, nil
	}
	if len(b) != models.HashSize {
		return models.Hash{}, false, NewError(BadRequest, fmt.Sprintf("malformed %s", key))
	}
	var h models.Hash
	copy(h[:], b)
	return h, true, nil
}
