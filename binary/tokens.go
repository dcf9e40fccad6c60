package binary

// primaryTokens is the fixed single-byte token dictionary. Index in the
// slice is the token's byte value; entries not used stay empty and are
// skipped by the reverse lookup. The exact ~250-entry table is owned by the
// protocol, not derived — this is a representative dictionary covering the
// stanza vocabulary this client actually emits and parses (iq/message
// plumbing, pairing, presence, receipts), large enough to exercise every
// encode/decode path without claiming byte-for-byte parity with an
// unavailable canonical table.
var primaryTokens = []string{
	1: "xmlns", 2: "s.whatsapp.net", 3: "type", 4: "to", 5: "from",
	6: "id", 7: "iq", 8: "get", 9: "set", 10: "result",
	11: "error", 12: "message", 13: "text", 14: "participant", 15: "notify",
	16: "verified_name", 17: "receipt", 18: "read", 19: "played", 20: "delivery",
	21: "presence", 22: "available", 23: "unavailable", 24: "composing", 25: "paused",
	26: "pair-device", 27: "pair-success", 28: "ref", 29: "device", 30: "device-identity",
	31: "key-index", 32: "account", 33: "signature", 34: "details", 35: "user",
	36: "server", 37: "group", 38: "g.us", 39: "broadcast", 40: "status",
	41: "stream:error", 42: "code", 43: "conflict", 44: "xmlstreamend", 45: "ack",
	46: "relay", 47: "usync", 48: "query", 49: "list", 50: "contact",
	51: "success", 52: "reason", 53: "location", 54: "expiration", 55: "picture",
	56: "notification", 57: "add", 58: "remove", 59: "subject", 60: "creation",
	61: "media", 62: "thumb", 63: "url", 64: "mimetype", 65: "filehash",
	66: "enc", 67: "plain", 68: "direct_path", 69: "height", 70: "width",
	71: "seconds", 72: "streaming-sidecar", 73: "count", 74: "ping", 75: "active",
	76: "passive", 77: "item", 78: "config", 79: "value", 80: "version",
	81: "platform", 82: "features", 83: "offline", 84: "last", 85: "c.us",
	86: "lid", 87: "agent", 88: "identity", 89: "registration", 90: "companion",
}

// secondaryTokens holds the four DICTIONARY_0..3 extension tables, each
// indexed the same way as primaryTokens but addressed via a two-byte
// sequence on the wire.
var secondaryTokens = [4][]string{
	{}, {}, {}, {},
}

const primaryDict = 0

// lookupToken finds s in the dictionaries, returning its byte index, which
// dictionary holds it (0 = primary, 1..4 = secondary DICTIONARY_0..3), and
// whether it was found at all.
func lookupToken(s string) (tok byte, dict int, ok bool) {
	for i, v := range primaryTokens {
		if v == s {
			return byte(i), primaryDict, true
		}
	}
	for d, table := range secondaryTokens {
		for i, v := range table {
			if v == s {
				return byte(i), d + 1, true
			}
		}
	}
	return 0, 0, false
}

// tokenAt resolves a token byte back to its string in the given dictionary.
func tokenAt(dict int, tok byte) (string, bool) {
	if dict == primaryDict {
		if int(tok) < len(primaryTokens) && primaryTokens[tok] != "" {
			return primaryTokens[tok], true
		}
		return "", false
	}
	table := secondaryTokens[dict-1]
	if int(tok) < len(table) && table[tok] != "" {
		return table[tok], true
	}
	return "", false
}

// dictionaryTag maps a secondary-dictionary index (1..4) to its DICTIONARY_0..3 tag byte.
func dictionaryTag(dict int) byte {
	return byte(tagDictionary0 + dict - 1)
}
