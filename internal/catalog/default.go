package catalog

// Watcher's Eye aura modifiers tracked by default
var defaultAttributes = []Attribute{
	{ID: "explicit.stat_2048747572", Label: "Wrath Damage"},
	{ID: "explicit.stat_418293304", Label: "Wrath Crit"},
	{ID: "explicit.stat_2643562209", Label: "Hatred Damage"},
	{ID: "explicit.stat_664849247", Label: "Hatred Penetration"},
	{ID: "explicit.stat_1222888897", Label: "Hatred Flat"},
	{ID: "explicit.stat_68410701", Label: "Hatred Convert"},
}

var defaultPairs = []QueryKey{
	Pair("explicit.stat_2048747572", "explicit.stat_418293304"),
	Pair("explicit.stat_2643562209", "explicit.stat_664849247"),
	Pair("explicit.stat_1222888897", "explicit.stat_68410701"),
}

// Default returns the built-in catalog
func Default() *Catalog {
	return New(defaultAttributes, defaultPairs)
}
