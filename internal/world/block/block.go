package block

import "fmt"

// Flags битовые флаги блока, независимые от материала
type Flags uint8

const (
	// FlagLight блок светится независимо от материала
	FlagLight Flags = 1 << 0

	knownFlags = FlagLight
)

// Block значение ячейки мира: материал в младшем байте, флаги в старшем.
// Нулевое значение означает пустую ячейку.
type Block uint16

// Air пустой блок
const Air Block = 0

// New собирает блок из материала и флагов
func New(m Material, f Flags) Block {
	return Block(uint16(m) | uint16(f)<<8)
}

// Of блок без флагов
func Of(m Material) Block {
	return New(m, 0)
}

// Material возвращает материал блока
func (b Block) Material() Material {
	return Material(b & 0xFF)
}

// Flags возвращает флаги блока
func (b Block) Flags() Flags {
	return Flags(b >> 8)
}

// IsEmpty true для пустой ячейки (флаги у пустоты не учитываются)
func (b Block) IsEmpty() bool {
	return b.Material() == Empty
}

// Lit true, если блок излучает свет (флаг или свойство материала)
func (b Block) Lit() bool {
	if b.Flags()&FlagLight != 0 {
		return true
	}
	p, _ := Get(b.Material())
	return p.Light > 0
}

// IsOpaque true, если блок полностью закрывает грани соседей
func (b Block) IsOpaque() bool {
	p, _ := Get(b.Material())
	return p.Opaque
}

// IsTransparent true для пустоты, стекла, листвы и растений
func (b Block) IsTransparent() bool {
	p, ok := Get(b.Material())
	return !ok || p.Transparent
}

// Validate проверяет материал и флаги, пришедшие из сети или из хранилища
func Validate(m Material, f Flags) error {
	if !IsValid(m) {
		return fmt.Errorf("неизвестный материал %d", m)
	}
	if f&^knownFlags != 0 {
		return fmt.Errorf("неизвестные флаги 0x%x", uint8(f))
	}
	return nil
}

// Normalize приводит пустой блок к нулю: флаги у пустоты не хранятся
func (b Block) Normalize() Block {
	if b.IsEmpty() {
		return Air
	}
	return b
}

func (b Block) String() string {
	if b.Flags() != 0 {
		return fmt.Sprintf("%s+0x%x", b.Material(), uint8(b.Flags()))
	}
	return b.Material().String()
}
