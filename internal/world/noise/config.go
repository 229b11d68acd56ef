package noise

// Octaves параметры одного слоя шума Перлина.
// Alpha и Beta передаются в go-perlin как есть: Alpha делит амплитуду каждой
// следующей октавы, Beta умножает её частоту.
type Octaves struct {
	Scale     float64 `yaml:"scale"`     // множитель мировой координаты
	Amplitude float64 `yaml:"amplitude"` // вклад слоя в высоту, блоков
	Alpha     float64 `yaml:"alpha"`
	Beta      float64 `yaml:"beta"`
	Count     int32   `yaml:"octaves"`
}

// Caves параметры вырезания пещер трёхмерным шумом
type Caves struct {
	Scale     float64 `yaml:"scale"`
	Threshold float64 `yaml:"threshold"` // шум выше порога = пустота
	MinDepth  int     `yaml:"min_depth"` // пещеры не ближе min_depth к поверхности
	Alpha     float64 `yaml:"alpha"`
	Beta      float64 `yaml:"beta"`
	Count     int32   `yaml:"octaves"`
}

// Config полностью определяет рельеф: одинаковый Config даёт одинаковый мир
// в любом процессе, поэтому он должен совпадать у сервера и всех клиентов.
type Config struct {
	Seed        int64   `yaml:"seed"`
	BaseHeight  int     `yaml:"base_height"`
	MinHeight   int     `yaml:"min_height"`
	MaxHeight   int     `yaml:"max_height"`
	DirtDepth   int     `yaml:"dirt_depth"`
	SandLevel   int     `yaml:"sand_level"` // поверхность не выше этого уровня становится песком
	SnowLevel   int     `yaml:"snow_level"` // поверхность выше этого уровня становится снегом
	PlantChance float64 `yaml:"plant_chance"`
	TreeChance  float64 `yaml:"tree_chance"` // доля травяных колонн выше 5 с деревом
	Elevation   Octaves `yaml:"elevation"`
	Detail      Octaves `yaml:"detail"`
	Caves       Caves   `yaml:"caves"`
}

// DefaultConfig возвращает параметры по умолчанию.
// Базовые значения: основание 8, размах рельефа 32 и детали 4, предел 64.
func DefaultConfig() Config {
	return Config{
		Seed:        0,
		BaseHeight:  8,
		MinHeight:   1,
		MaxHeight:   64,
		DirtDepth:   3,
		SandLevel:   4,
		SnowLevel:   44,
		PlantChance: 0.1,
		TreeChance:  0.02,
		Elevation: Octaves{
			Scale:     0.01,
			Amplitude: 32,
			Alpha:     2,
			Beta:      2,
			Count:     4,
		},
		Detail: Octaves{
			Scale:     0.05,
			Amplitude: 4,
			Alpha:     2,
			Beta:      2,
			Count:     2,
		},
		Caves: Caves{
			Scale:     0.06,
			Threshold: 0.35,
			MinDepth:  6,
			Alpha:     2,
			Beta:      2,
			Count:     2,
		},
	}
}

// withDefaults подставляет значения по умолчанию для незаданных коэффициентов
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxHeight <= 0 {
		c.MaxHeight = d.MaxHeight
	}
	if c.MinHeight < 0 || c.MinHeight > c.MaxHeight {
		c.MinHeight = d.MinHeight
	}
	if c.DirtDepth <= 0 {
		c.DirtDepth = d.DirtDepth
	}
	if c.Elevation.Count <= 0 {
		c.Elevation = d.Elevation
	}
	if c.Detail.Count <= 0 {
		c.Detail = d.Detail
	}
	if c.Caves.Count <= 0 {
		c.Caves = d.Caves
	}
	return c
}
