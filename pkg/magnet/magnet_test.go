package magnet

import "testing"

func TestParseMagnet(t *testing.T) {
	uri := "magnet:?xt=urn:btih:8a19577fb5f690970ca43a57ff1011ae202244b8&dn=ubuntu-25.04-desktop-amd64.iso"
	src, err := ParseMagnet(uri)
	if err != nil {
		t.Fatalf("ParseMagnet failed: %v", err)
	}
	if src.InfoHash != "8a19577fb5f690970ca43a57ff1011ae202244b8" {
		t.Errorf("unexpected info hash: %s", src.InfoHash)
	}
	if src.Name != "ubuntu-25.04-desktop-amd64.iso" {
		t.Errorf("unexpected name: %s", src.Name)
	}
}

func TestParseMagnet_NotAMagnet(t *testing.T) {
	if _, err := ParseMagnet("https://example.com/file.torrent"); err == nil {
		t.Error("expected error for non-magnet URI")
	}
}

func TestNormalizeInfoHash_Hex(t *testing.T) {
	hash := "8A19577FB5F690970CA43A57FF1011AE202244B8"
	got, err := NormalizeInfoHash(hash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "8a19577fb5f690970ca43a57ff1011ae202244b8"
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestNormalizeInfoHash_Base32(t *testing.T) {
	// base32 encoding of the same 20-byte hash as above
	hex := "8a19577fb5f690970ca43a57ff1011ae202244b8"
	got, err := NormalizeInfoHash("RIMVO75V62IJODFEHJL76EARVYQCERFY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != hex {
		t.Errorf("got %s, want %s", got, hex)
	}
}

func TestNormalizeInfoHash_Invalid(t *testing.T) {
	if _, err := NormalizeInfoHash("not-a-hash"); err == nil {
		t.Error("expected error for invalid info hash")
	}
}

func TestExtractInfoHash(t *testing.T) {
	desc := "xt=urn:btih:8a19577fb5f690970ca43a57ff1011ae202244b8&dn=ubuntu"
	got, err := ExtractInfoHash(desc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "8a19577fb5f690970ca43a57ff1011ae202244b8" {
		t.Errorf("unexpected hash: %s", got)
	}
}

func TestExtractInfoHash_Missing(t *testing.T) {
	if _, err := ExtractInfoHash("dn=ubuntu"); err == nil {
		t.Error("expected error when urn:btih is absent")
	}
}
