package rabbitmq

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// NewTLSConfig builds a *tls.Config from a protocol identifier and a
// cipher-suite list. Protocol names are accepted in several spellings
// ("TLSv1.2", "TLS1_2", "PROTOCOL_TLSv1_2", "TLS"); ciphers are IANA suite
// names separated by colons, commas, or whitespace. An empty cipher string
// leaves the library defaults in place.
func NewTLSConfig(protocol, ciphers string) (*tls.Config, error) {
	minVersion, maxVersion, err := parseProtocol(protocol)
	if err != nil {
		return nil, err
	}

	suites, err := parseCipherSuites(ciphers)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion:   minVersion,
		MaxVersion:   maxVersion,
		CipherSuites: suites,
	}, nil
}

// parseProtocol maps a protocol identifier to a TLS version range. Version
// pinning names ("TLSv1.2") fix both ends of the range; the generic names
// ("TLS", "TLS_CLIENT") only raise the floor to 1.2.
func parseProtocol(protocol string) (minVersion, maxVersion uint16, err error) {
	name := strings.ToUpper(strings.TrimSpace(protocol))
	name = strings.TrimPrefix(name, "PROTOCOL_")
	name = strings.ReplaceAll(name, "_", ".")
	name = strings.ReplaceAll(name, "V1", "1")

	switch name {
	case "", "TLS", "TLS.CLIENT":
		return tls.VersionTLS12, 0, nil
	case "TLS1":
		return tls.VersionTLS10, tls.VersionTLS10, nil
	case "TLS1.1":
		return tls.VersionTLS11, tls.VersionTLS11, nil
	case "TLS1.2":
		return tls.VersionTLS12, tls.VersionTLS12, nil
	case "TLS1.3":
		return tls.VersionTLS13, tls.VersionTLS13, nil
	default:
		return 0, 0, fmt.Errorf("rabbitmq: unknown TLS protocol %q", protocol)
	}
}

// parseCipherSuites resolves a delimited list of IANA cipher-suite names
// against the suites the runtime actually implements.
func parseCipherSuites(ciphers string) ([]uint16, error) {
	fields := strings.FieldsFunc(ciphers, func(r rune) bool {
		return r == ':' || r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return nil, nil
	}

	byName := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		byName[s.Name] = s.ID
	}
	for _, s := range tls.InsecureCipherSuites() {
		byName[s.Name] = s.ID
	}

	ids := make([]uint16, 0, len(fields))
	for _, name := range fields {
		id, ok := byName[strings.ToUpper(name)]
		if !ok {
			return nil, fmt.Errorf("rabbitmq: unsupported cipher suite %q", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
