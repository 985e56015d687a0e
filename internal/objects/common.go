package objects

// CommonObject is a suggested object to teach.
type CommonObject struct {
	Name  string `json:"name"`
	Alias string `json:"alias"`
}

// CommonObjects are offered to new users as starting points.
var CommonObjects = []CommonObject{
	{Name: "keys", Alias: "car keys, house keys, office keys, keychain, key ring"},
	{Name: "wallet", Alias: "leather wallet, purse, billfold, money clip"},
	{Name: "phone", Alias: "iPhone, smartphone, mobile phone, cell phone"},
	{Name: "glasses", Alias: "reading glasses, sunglasses, eyeglasses, spectacles"},
	{Name: "airpods", Alias: "AirPods, earbuds, wireless earphones, headphones"},
	{Name: "remote", Alias: "TV remote, remote control, controller"},
	{Name: "charger", Alias: "phone charger, USB cable, charging cable, power cord"},
	{Name: "watch", Alias: "wristwatch, smartwatch, Apple Watch, fitness tracker"},
}

// AliasTips explain how to write a useful alias.
var AliasTips = []string{
	"Use specific descriptions in the alias field",
	"Include colors, brands, or distinguishing features",
	"Add multiple ways you might refer to the object",
	"Be descriptive but concise",
}
