package lifx

// Features is the capability set of a product.
type Features struct {
	Color             bool   `json:"color"`
	Chain             bool   `json:"chain"`
	Matrix            bool   `json:"matrix"`
	Infrared          bool   `json:"infrared"`
	Multizone         bool   `json:"multizone"`
	ExtendedMultizone bool   `json:"extended_multizone"`
	HEV               bool   `json:"hev"`
	Relays            bool   `json:"relays"`
	Buttons           bool   `json:"buttons"`
	MinKelvin         uint16 `json:"min_kelvin"`
	MaxKelvin         uint16 `json:"max_kelvin"`
}

// Product is one entry of the static LIFX product table.
type Product struct {
	ID       uint32   `json:"id"`
	Name     string   `json:"name"`
	Features Features `json:"features"`
}

// defaultProductID is used for product ids missing from the table.
const defaultProductID = 1

var (
	colorBulb   = Features{Color: true, MinKelvin: 2500, MaxKelvin: 9000}
	colorBulbV2 = Features{Color: true, MinKelvin: 1500, MaxKelvin: 9000}
	whiteToWarm = Features{MinKelvin: 1500, MaxKelvin: 4000}
	whiteOnly   = Features{MinKelvin: 2700, MaxKelvin: 2700}
	nightVision = Features{Color: true, Infrared: true, MinKelvin: 2500, MaxKelvin: 9000}
	clean       = Features{Color: true, HEV: true, MinKelvin: 1500, MaxKelvin: 9000}
	legacyStrip = Features{Color: true, Multizone: true, MinKelvin: 2500, MaxKelvin: 9000}
	strip       = Features{Color: true, Multizone: true, ExtendedMultizone: true, MinKelvin: 1500, MaxKelvin: 9000}
	tile        = Features{Color: true, Chain: true, Matrix: true, MinKelvin: 2500, MaxKelvin: 9000}
	matrix      = Features{Color: true, Matrix: true, MinKelvin: 1500, MaxKelvin: 9000}
	relaySwitch = Features{Relays: true, Buttons: true}
)

var products = map[uint32]Product{
	1:   {1, "LIFX Original 1000", colorBulb},
	3:   {3, "LIFX Color 650", colorBulb},
	10:  {10, "LIFX White 800 (Low Voltage)", Features{MinKelvin: 2700, MaxKelvin: 6500}},
	11:  {11, "LIFX White 800 (High Voltage)", Features{MinKelvin: 2700, MaxKelvin: 6500}},
	15:  {15, "LIFX Color 1000", colorBulb},
	18:  {18, "LIFX White 900 BR30 (Low Voltage)", Features{MinKelvin: 2500, MaxKelvin: 9000}},
	20:  {20, "LIFX Color 1000 BR30", colorBulb},
	22:  {22, "LIFX Color 1000", colorBulb},
	27:  {27, "LIFX A19", colorBulb},
	28:  {28, "LIFX BR30", colorBulb},
	29:  {29, "LIFX A19 Night Vision", nightVision},
	30:  {30, "LIFX BR30 Night Vision", nightVision},
	31:  {31, "LIFX Z", legacyStrip},
	32:  {32, "LIFX Z", strip},
	36:  {36, "LIFX Downlight", colorBulb},
	37:  {37, "LIFX Downlight", colorBulb},
	38:  {38, "LIFX Beam", strip},
	43:  {43, "LIFX A19", colorBulb},
	44:  {44, "LIFX BR30", colorBulb},
	45:  {45, "LIFX A19 Night Vision", nightVision},
	46:  {46, "LIFX BR30 Night Vision", nightVision},
	49:  {49, "LIFX Mini Color", colorBulb},
	50:  {50, "LIFX Mini White to Warm", whiteToWarm},
	51:  {51, "LIFX Mini White", whiteOnly},
	52:  {52, "LIFX GU10", colorBulb},
	55:  {55, "LIFX Tile", tile},
	57:  {57, "LIFX Candle", matrix},
	59:  {59, "LIFX Mini Color", colorBulb},
	60:  {60, "LIFX Mini White to Warm", whiteToWarm},
	61:  {61, "LIFX Mini White", whiteOnly},
	62:  {62, "LIFX A19", colorBulb},
	63:  {63, "LIFX BR30", colorBulb},
	64:  {64, "LIFX A19 Night Vision", nightVision},
	65:  {65, "LIFX BR30 Night Vision", nightVision},
	68:  {68, "LIFX Candle", matrix},
	70:  {70, "LIFX Switch", relaySwitch},
	71:  {71, "LIFX Switch", relaySwitch},
	81:  {81, "LIFX Candle White to Warm", Features{MinKelvin: 2200, MaxKelvin: 6500}},
	82:  {82, "LIFX Filament Clear", Features{MinKelvin: 2100, MaxKelvin: 2100}},
	85:  {85, "LIFX Filament Amber", Features{MinKelvin: 2000, MaxKelvin: 2000}},
	89:  {89, "LIFX Switch", relaySwitch},
	90:  {90, "LIFX Clean", clean},
	91:  {91, "LIFX Color", colorBulbV2},
	92:  {92, "LIFX Color", colorBulbV2},
	97:  {97, "LIFX A19", colorBulbV2},
	98:  {98, "LIFX BR30", colorBulbV2},
	99:  {99, "LIFX Clean", clean},
	109: {109, "LIFX A19 Night Vision", nightVision},
	110: {110, "LIFX BR30 Night Vision", nightVision},
	117: {117, "LIFX Z", strip},
	118: {118, "LIFX Z", strip},
	119: {119, "LIFX Beam", strip},
	120: {120, "LIFX Beam", strip},
	123: {123, "LIFX Color", colorBulbV2},
	124: {124, "LIFX Color", colorBulbV2},
	125: {125, "LIFX White to Warm", whiteToWarm},
	126: {126, "LIFX White to Warm", whiteToWarm},
	137: {137, "LIFX Candle Color", matrix},
	138: {138, "LIFX Candle Colour", matrix},
	141: {141, "LIFX Neon", strip},
	142: {142, "LIFX Neon", strip},
	143: {143, "LIFX String", strip},
	144: {144, "LIFX String", strip},
	171: {171, "LIFX Round Spot", matrix},
	173: {173, "LIFX Round Path", matrix},
	174: {174, "LIFX Square Path", matrix},
	176: {176, "LIFX Ceiling", matrix},
	177: {177, "LIFX Ceiling", matrix},
}

// LookupProduct returns the product table entry for id. Unknown ids fall
// back to the original LIFX bulb, which has the most conservative feature
// set.
func LookupProduct(id uint32) (Product, bool) {
	if p, ok := products[id]; ok {
		return p, true
	}
	return products[defaultProductID], false
}
