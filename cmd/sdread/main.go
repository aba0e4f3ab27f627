// Command sdread dumps raw blocks from an SD card.
//
// By default it initializes a real card over the Raspberry Pi's SPI0
// controller. With -image it serves a disk image through an emulated
// card instead, which is handy for exercising the driver away from
// hardware; -create first builds a FAT32-formatted scratch image at
// that path.
//
//	sdread -block 0 -count 2
//	sdread -image card.img -create -block 0
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/filesystem/fat32"
	"github.com/diskfs/go-diskfs/partition/mbr"

	"github.com/rabidaudio/sdspi/mock"
	"github.com/rabidaudio/sdspi/sdcard"
	"github.com/rabidaudio/sdspi/spi"
)

const imageSize = 64 * fat32.MB

func main() {
	image := flag.String("image", "", "read from a disk image instead of hardware")
	create := flag.Bool("create", false, "create a FAT32 scratch image at -image first")
	block := flag.Uint("block", 0, "first block number to read")
	count := flag.Uint("count", 1, "number of blocks to read")
	cs := flag.Uint("cs", 8, "chip select GPIO (BCM numbering)")
	verbose := flag.Bool("v", false, "log the card handshake")
	flag.Parse()

	if *create {
		if *image == "" {
			log.Fatal("-create requires -image")
		}
		if err := createImage(*image); err != nil {
			log.Fatalf("create %s: %v", *image, err)
		}
	}

	var tr sdcard.Transport
	if *image != "" {
		f, err := os.Open(*image)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close() // ignore error: file was opened read-only.
		tr = &mock.Card{Blocks: f}
	} else {
		t, err := spi.Open(uint8(*cs))
		if err != nil {
			log.Fatal(err)
		}
		defer t.Close()
		tr = t
	}

	card := &sdcard.Card{
		Transport:        tr,
		BootstrapDivisor: 1023,
		OperatingDivisor: 24,
	}
	if *verbose {
		card.LogMode = sdcard.LogModeStdErr
	}
	if err := card.Init(); err != nil {
		log.Fatalf("initialize: %v", err)
	}

	buf := make([]byte, sdcard.BlockSize)
	for i := uint(0); i < *count; i++ {
		addr := uint32(*block + i)
		if err := card.ReadBlock(addr, buf); err != nil {
			log.Fatalf("read block %d: %v", addr, err)
		}
		fmt.Printf("block %d:\n%s\n", addr, hex.Dump(buf))
	}
}

// createImage builds a partitioned disk image with one FAT32
// filesystem, the layout a freshly formatted card would have.
func createImage(path string) error {
	dsk, err := diskfs.Create(path, imageSize, diskfs.SectorSizeDefault)
	if err != nil {
		return err
	}
	err = dsk.Partition(&mbr.Table{
		LogicalSectorSize:  sdcard.BlockSize,
		PhysicalSectorSize: sdcard.BlockSize,
		Partitions: []*mbr.Partition{
			{
				Type:  mbr.Fat32LBA,
				Start: 2048,
				Size:  uint32(imageSize/sdcard.BlockSize) - 2048,
			},
		},
	})
	if err != nil {
		return err
	}
	_, err = dsk.CreateFilesystem(disk.FilesystemSpec{
		Partition:   1,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: "SDSPI",
	})
	return err
}
