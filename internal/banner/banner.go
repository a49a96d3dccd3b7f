package banner

import (
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
)

// Version is printed in the banner and the startup log
const Version = "0.1.0"

func Print() {
	logo, _ := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithRGB("Geo", pterm.NewRGB(46, 139, 87)),
		putils.LettersFromStringWithRGB("Stamp", pterm.NewRGB(30, 30, 30))).
		Srender()

	pterm.DefaultCenter.Print(logo)

	pterm.DefaultCenter.Print(
		pterm.DefaultHeader.
			WithFullWidth().
			WithBackgroundStyle(pterm.NewStyle(pterm.BgGreen)).
			WithMargin(5).
			Sprint(pterm.White("GeoStamp - GeoIP header enrichment for event streams")),
	)

	pterm.Info.Println(
		"Geolocates the address header of each event and stamps it with this host's address." +
			"\nVersion " + Version + ".",
	)
}
