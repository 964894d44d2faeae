package rrdata

// EncodeCNAME encodes a target name into CNAME record rdata.
func EncodeCNAME(target string) ([]byte, error) {
	return EncodeName(target)
}

// DecodeCNAME decodes CNAME record rdata into its target name.
func DecodeCNAME(data []byte) (string, error) {
	name, _, err := DecodeName(data, 0)
	return name, err
}

// DecodeNS decodes NS record rdata into its nameserver name.
func DecodeNS(data []byte) (string, error) {
	name, _, err := DecodeName(data, 0)
	return name, err
}

// DecodePTR decodes PTR record rdata into its target name.
func DecodePTR(data []byte) (string, error) {
	name, _, err := DecodeName(data, 0)
	return name, err
}
