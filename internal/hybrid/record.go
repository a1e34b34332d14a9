package hybrid

import "github.com/and161185/safechat/internal/model"

// Apply copies the sealed fields onto a record.
func (s Sealed) Apply(m *model.DirectMessage) {
	m.CipherText = s.CipherText
	m.WrappedKey = s.WrappedKey
	m.File = s.File
	m.FileType = s.FileType
	m.WrappedFileName = s.WrappedFileName
	m.PlainEcho = s.PlainEcho
}

// FromDirect extracts the sealed fields of a record.
func FromDirect(m model.DirectMessage) Sealed {
	return Sealed{
		CipherText:      m.CipherText,
		WrappedKey:      m.WrappedKey,
		File:            m.File,
		FileType:        m.FileType,
		WrappedFileName: m.WrappedFileName,
		PlainEcho:       m.PlainEcho,
	}
}
