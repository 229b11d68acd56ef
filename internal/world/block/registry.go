package block

import "fmt"

// Material идентификатор материала блока; значения совпадают с номерами в протоколе
type Material uint8

// Константы материалов
const (
	Empty Material = iota // 0
	Grass
	Sand
	Stone
	Brick
	Wood
	Cement
	Dirt
	Plank
	Snow
	Glass // 10
	Cobble
	LightStone
	DarkStone
	Chest
	Leaves
	Cloud
	TallGrass
	YellowFlower
	RedFlower
	PurpleFlower // 20
	SunFlower
	WhiteFlower
	BlueFlower

	materialCount
)

// Properties описывает свойства материала
type Properties struct {
	Name        string
	Opaque      bool // полностью закрывает соседние грани
	Transparent bool // пропускает свет, соседние грани видны
	Plant       bool
	Light       uint8 // собственное свечение 0..15
	Hardness    uint8 // условная сложность добычи
}

var registry = [materialCount]Properties{
	Empty:        {Name: "empty", Transparent: true},
	Grass:        {Name: "grass", Opaque: true, Hardness: 2},
	Sand:         {Name: "sand", Opaque: true, Hardness: 1},
	Stone:        {Name: "stone", Opaque: true, Hardness: 5},
	Brick:        {Name: "brick", Opaque: true, Hardness: 6},
	Wood:         {Name: "wood", Opaque: true, Hardness: 3},
	Cement:       {Name: "cement", Opaque: true, Hardness: 6},
	Dirt:         {Name: "dirt", Opaque: true, Hardness: 2},
	Plank:        {Name: "plank", Opaque: true, Hardness: 3},
	Snow:         {Name: "snow", Opaque: true, Hardness: 1},
	Glass:        {Name: "glass", Transparent: true, Hardness: 1},
	Cobble:       {Name: "cobble", Opaque: true, Hardness: 5},
	LightStone:   {Name: "light_stone", Opaque: true, Hardness: 5},
	DarkStone:    {Name: "dark_stone", Opaque: true, Hardness: 5},
	Chest:        {Name: "chest", Opaque: true, Hardness: 3},
	Leaves:       {Name: "leaves", Transparent: true, Hardness: 1},
	Cloud:        {Name: "cloud", Opaque: true},
	TallGrass:    {Name: "tall_grass", Transparent: true, Plant: true},
	YellowFlower: {Name: "yellow_flower", Transparent: true, Plant: true},
	RedFlower:    {Name: "red_flower", Transparent: true, Plant: true},
	PurpleFlower: {Name: "purple_flower", Transparent: true, Plant: true},
	SunFlower:    {Name: "sun_flower", Transparent: true, Plant: true, Light: 4},
	WhiteFlower:  {Name: "white_flower", Transparent: true, Plant: true},
	BlueFlower:   {Name: "blue_flower", Transparent: true, Plant: true},
}

// Plants материалы растений, используемые генератором
var Plants = []Material{TallGrass, YellowFlower, RedFlower, PurpleFlower, SunFlower, WhiteFlower, BlueFlower}

// Get возвращает свойства материала
func Get(m Material) (Properties, bool) {
	if !IsValid(m) {
		return Properties{}, false
	}
	return registry[m], true
}

// IsValid проверяет, является ли значение допустимым материалом
func IsValid(m Material) bool {
	return m < materialCount
}

// Count возвращает число зарегистрированных материалов
func Count() int {
	return int(materialCount)
}

func (m Material) String() string {
	if !IsValid(m) {
		return fmt.Sprintf("material(%d)", uint8(m))
	}
	return registry[m].Name
}

// ParseMaterial ищет материал по имени (для команд и инструментов)
func ParseMaterial(name string) (Material, bool) {
	for i := Material(0); i < materialCount; i++ {
		if registry[i].Name == name {
			return i, true
		}
	}
	return Empty, false
}
