package lds

import (
	"crypto"
	"testing"

	"mrtdreader/document"
)

func TestDecodeDG1(t *testing.T) {
	mrz := "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<" +
		"L898902C36UTO7408122F1204159ZE184226B<<<<<10"
	body := EncodeTag(tagMRZData, []byte(mrz))
	raw := Encode(document.DG1.Tag(), body)

	dg1, err := decodeDG1(raw)
	if err != nil {
		t.Fatalf("decodeDG1: %v", err)
	}
	if dg1.MRZ != mrz {
		t.Errorf("MRZ = %q, want %q", dg1.MRZ, mrz)
	}
	if dg1.ID() != document.DG1 {
		t.Errorf("ID() = %v, want DG1", dg1.ID())
	}
}

func TestDecodeDG1MissingMRZ(t *testing.T) {
	raw := Encode(document.DG1.Tag(), Encode(0x04, []byte("x")))
	if _, err := decodeDG1(raw); err == nil {
		t.Fatal("expected error when MRZ element absent")
	}
}

func TestDecodeDG2FindsBiometricDataBlocks(t *testing.T) {
	image1 := []byte{0xFF, 0xD8, 0xFF, 0xE0} // JPEG SOI + APP0 marker, as a stand-in payload
	bit1 := EncodeTag(tagBiometricInfoTemplate, append(
		Encode(0xA1, []byte{0x01}), // biometric header template, minimal
		EncodeTag(tagBiometricDataBlock, image1)...,
	))
	group := EncodeTag(tagBiometricInfoTemplateGroup, append(Encode(0x02, []byte{0x01}), bit1...))
	raw := Encode(document.DG2.Tag(), group)

	dg2, err := decodeDG2(raw)
	if err != nil {
		t.Fatalf("decodeDG2: %v", err)
	}
	if len(dg2.Images) != 1 {
		t.Fatalf("Images = %d entries, want 1", len(dg2.Images))
	}
	if string(dg2.Images[0]) != string(image1) {
		t.Errorf("Images[0] = %X, want %X", dg2.Images[0], image1)
	}
}

func TestDecodeDG7FindsSignatureImages(t *testing.T) {
	image := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	body := append(Encode(0x02, []byte{0x01}), EncodeTag(tagSignatureImage, image)...)
	raw := Encode(document.DG7.Tag(), body)

	dg7, err := decodeDG7(raw)
	if err != nil {
		t.Fatalf("decodeDG7: %v", err)
	}
	if len(dg7.Images) != 1 || string(dg7.Images[0]) != string(image) {
		t.Fatalf("Images = %X, want one entry %X", dg7.Images, image)
	}
}

func TestDecodeDG11Fields(t *testing.T) {
	body := EncodeTag(tagDG11FullName, []byte("ERIKSSON<<ANNA MARIA"))
	body = append(body, EncodeTag(tagDG11PersonalNumber, []byte("AB1234567"))...)
	body = append(body, EncodeTag(tagDG11FullDateOfBirth, []byte("19740812"))...)
	body = append(body, EncodeTag(tagDG11Telephone, []byte("+1234567890"))...)
	raw := Encode(document.DG11.Tag(), body)

	dg11, err := decodeDG11(raw)
	if err != nil {
		t.Fatalf("decodeDG11: %v", err)
	}
	if dg11.FullName != "ERIKSSON<<ANNA MARIA" {
		t.Errorf("FullName = %q", dg11.FullName)
	}
	if dg11.PersonalNumber != "AB1234567" {
		t.Errorf("PersonalNumber = %q", dg11.PersonalNumber)
	}
	if dg11.FullDateOfBirth != "19740812" {
		t.Errorf("FullDateOfBirth = %q", dg11.FullDateOfBirth)
	}
	if dg11.Telephone != "+1234567890" {
		t.Errorf("Telephone = %q", dg11.Telephone)
	}
	if dg11.ID() != document.DG11 {
		t.Errorf("ID() = %v, want DG11", dg11.ID())
	}
}

func TestDecodeDG12Fields(t *testing.T) {
	body := EncodeTag(tagDG12IssuingAuthority, []byte("PASSPORT OFFICE"))
	body = append(body, EncodeTag(tagDG12DateOfIssue, []byte("20200101"))...)
	raw := Encode(document.DG12.Tag(), body)

	dg12, err := decodeDG12(raw)
	if err != nil {
		t.Fatalf("decodeDG12: %v", err)
	}
	if dg12.IssuingAuthority != "PASSPORT OFFICE" {
		t.Errorf("IssuingAuthority = %q", dg12.IssuingAuthority)
	}
	if dg12.DateOfIssue != "20200101" {
		t.Errorf("DateOfIssue = %q", dg12.DateOfIssue)
	}
}

func TestDecodeDataGroupDispatchesNewDecoders(t *testing.T) {
	raw := Encode(document.DG12.Tag(), EncodeTag(tagDG12IssuingAuthority, []byte("X")))
	dg, err := DecodeDataGroup(document.DG12, raw)
	if err != nil {
		t.Fatalf("DecodeDataGroup: %v", err)
	}
	if _, ok := dg.(*DG12); !ok {
		t.Fatalf("DecodeDataGroup(DG12) = %T, want *DG12", dg)
	}
}

func TestDecodeDataGroupGenericFallback(t *testing.T) {
	raw := Encode(document.DG3.Tag(), []byte{0x01, 0x02, 0x03})
	dg, err := DecodeDataGroup(document.DG3, raw)
	if err != nil {
		t.Fatalf("DecodeDataGroup: %v", err)
	}
	if _, ok := dg.(*Generic); !ok {
		t.Fatalf("expected *Generic, got %T", dg)
	}
	if dg.ID() != document.DG3 {
		t.Errorf("ID() = %v, want DG3", dg.ID())
	}
}

func TestHashByOIDName(t *testing.T) {
	dg := &Generic{id: document.DG2, raw: []byte("hello world")}

	h, err := HashByOIDName(dg, "sha256")
	if err != nil {
		t.Fatalf("HashByOIDName: %v", err)
	}
	want, _ := Hash(dg, crypto.SHA256)
	if string(h) != string(want) {
		t.Fatal("sha256 hash mismatch between HashByOIDName and Hash")
	}

	if _, err := HashByOIDName(dg, "md5"); err == nil {
		t.Fatal("expected error for unsupported hash algorithm")
	}
}
